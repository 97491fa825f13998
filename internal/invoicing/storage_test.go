package invoicing

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		baseDir string
		storage *LocalStorage
	)

	BeforeEach(func() {
		baseDir = filepath.Join(GinkgoT().TempDir(), "files")
		var err error
		storage, err = NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		info, err := os.Stat(baseDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("saves into bucket directories", func() {
		Expect(storage.Save("receipts/1710947045000-lunch.png", []byte("png"))).To(Succeed())

		data, err := os.ReadFile(filepath.Join(baseDir, "receipts", "1710947045000-lunch.png"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("png"))

		got, err := storage.Get("receipts/1710947045000-lunch.png")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]byte("png")))
	})

	It("replaces existing files", func() {
		Expect(storage.Save("invoices/inv-1.pdf", []byte("one"))).To(Succeed())
		Expect(storage.Save("invoices/inv-1.pdf", []byte("two"))).To(Succeed())

		got, err := storage.Get("invoices/inv-1.pdf")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("two"))
	})

	It("reports missing files as not found", func() {
		_, err := storage.Get("receipts/missing.png")
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("deletes, tolerating missing files", func() {
		Expect(storage.Save("receipts/a.png", []byte("a"))).To(Succeed())
		Expect(storage.Delete("receipts/a.png")).To(Succeed())
		Expect(storage.Delete("receipts/a.png")).To(Succeed())

		_, err := storage.Get("receipts/a.png")
		Expect(err).To(MatchError(ErrNotFound))
	})

	DescribeTable("rejects keys outside the base directory",
		func(key string) {
			Expect(storage.Save(key, []byte("x"))).To(MatchError(ContainSubstring("invalid storage key")))
			_, err := storage.Get(key)
			Expect(err).To(MatchError(ContainSubstring("invalid storage key")))
			Expect(storage.Delete(key)).To(MatchError(ContainSubstring("invalid storage key")))
		},
		Entry("parent", "../escape.txt"),
		Entry("nested parent", "receipts/../../escape.txt"),
		Entry("absolute", "/etc/passwd"),
		Entry("empty", ""),
		Entry("parent only", ".."),
	)
})
