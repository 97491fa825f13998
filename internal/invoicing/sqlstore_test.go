package invoicing

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLDB", func() {
	Context("on SQLite", func() {
		describeDBContract(func() DB {
			db, err := NewSQLDB("sqlite", filepath.Join(GinkgoT().TempDir(), "test.sqlite"))
			Expect(err).NotTo(HaveOccurred())
			return db
		})
	})

	Describe("OpenSQLDB", func() {
		It("opens sqlite:// URLs", func() {
			db, err := OpenSQLDB("sqlite://" + filepath.Join(GinkgoT().TempDir(), "url.sqlite"))
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()
			Expect(db.driver).To(Equal("sqlite"))
		})

		It("treats bare paths as SQLite", func() {
			db, err := OpenSQLDB(filepath.Join(GinkgoT().TempDir(), "bare.sqlite"))
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()
			Expect(db.driver).To(Equal("sqlite"))
		})

		It("migrates idempotently", func() {
			path := filepath.Join(GinkgoT().TempDir(), "twice.sqlite")
			db, err := OpenSQLDB(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			db, err = OpenSQLDB(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())
		})
	})

	Describe("rebind", func() {
		It("numbers placeholders for Postgres", func() {
			db := &SQLDB{driver: "postgres"}
			Expect(db.rebind("UPDATE t SET a = ? WHERE id = ? AND s IN (?, ?)")).
				To(Equal("UPDATE t SET a = $1 WHERE id = $2 AND s IN ($3, $4)"))
		})

		It("leaves SQLite queries alone", func() {
			db := &SQLDB{driver: "sqlite"}
			Expect(db.rebind("SELECT ? ")).To(Equal("SELECT ? "))
		})
	})

	It("orders timestamps as text", func() {
		Expect(formatTime(fixedNow)).To(Equal("2024-03-20T15:04:05.000000000Z"))
		t, err := parseTime(formatTime(fixedNow))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(BeTemporally("==", fixedNow))
	})
})
