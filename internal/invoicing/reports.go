package invoicing

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/money"
)

// WriteInvoiceReport writes every invoice as CSV, newest first
func (s *Service) WriteInvoiceReport(w io.Writer) error {
	invoices, err := s.listInvoicesNewestFirst()
	if err != nil {
		return err
	}
	clients, err := s.db.ListClients()
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"Invoice ID", "Client", "Amount", "Status", "Due Date", "Created"})
	for _, inv := range invoices {
		client, ok := names[inv.ClientID]
		if !ok {
			client = inv.ClientID
		}
		cw.Write([]string{
			shortID(inv.ID),
			client,
			inv.Amount.String(),
			string(inv.Status),
			inv.DueDate,
			inv.CreatedAt.UTC().Format(DateLayout),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteTaxSummary writes revenue, expenses, net and expenses by category as CSV
func (s *Service) WriteTaxSummary(w io.Writer) error {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return fmt.Errorf("listing invoices: %w", err)
	}
	expenses, err := s.db.ListExpenses()
	if err != nil {
		return fmt.Errorf("listing expenses: %w", err)
	}

	revenue := money.Zero
	for _, inv := range invoices {
		revenue = revenue.Add(inv.Amount)
	}
	spent := money.Zero
	byCategory := make(map[categorizing.Category]money.Amount)
	for _, e := range expenses {
		spent = spent.Add(e.Amount)
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
	}
	net := revenue.Decimal().Sub(spent.Decimal()).StringFixed(money.Places)

	cw := csv.NewWriter(w)
	cw.WriteAll([][]string{
		{"Summary", "Amount"},
		{"Total revenue (invoices)", revenue.String()},
		{"Total expenses", spent.String()},
		{"Net", net},
		{},
		{"Expenses by category", ""},
	})
	for _, c := range sortedCategories(byCategory) {
		cw.Write([]string{string(c), byCategory[c].String()})
	}
	cw.Flush()
	return cw.Error()
}

// WriteClientStatements writes each client's balance as CSV
func (s *Service) WriteClientStatements(w io.Writer) error {
	clients, err := s.ListClients()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"Name", "Email", "Total Owed", "Created"})
	for _, c := range clients {
		cw.Write([]string{c.Name, c.Email, c.TotalOwed.String(), c.CreatedAt.UTC().Format(DateLayout)})
	}
	cw.Flush()
	return cw.Error()
}

// sortedCategories orders categories as they are listed in categorizing.Categories,
// with unknown values last in name order
func sortedCategories(totals map[categorizing.Category]money.Amount) []categorizing.Category {
	rank := make(map[categorizing.Category]int, len(categorizing.Categories))
	for i, c := range categorizing.Categories {
		rank[c] = i
	}
	keys := make([]categorizing.Category, 0, len(totals))
	for c := range totals {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
