package invoicing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zombor/invoiceflow/internal/money"
)

// ClientUpdate holds the fields to change; nil fields are left alone
type ClientUpdate struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// CreateClient adds a client with nothing owed
func (s *Service) CreateClient(name, email string) (*Client, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, invalid("Name and email are required")
	}

	client := &Client{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		Email:     email,
		TotalOwed: money.Zero,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveClient(client); err != nil {
		return nil, fmt.Errorf("saving client: %w", err)
	}
	return client, nil
}

// UpdateClient applies a partial update to a client's name and email
func (s *Service) UpdateClient(id string, update ClientUpdate) (*Client, error) {
	if update.Name == nil && update.Email == nil {
		return nil, invalid("No fields to update")
	}
	var name, email *string
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return nil, invalid("Name cannot be blank")
		}
		name = &trimmed
	}
	if update.Email != nil {
		trimmed := strings.TrimSpace(*update.Email)
		if trimmed == "" {
			return nil, invalid("Email cannot be blank")
		}
		email = &trimmed
	}

	client, err := s.db.UpdateClientContact(id, name, email)
	if err != nil {
		return nil, fmt.Errorf("updating client: %w", err)
	}
	return client, nil
}

// DeleteClient removes a client. Its invoices keep their client_id.
func (s *Service) DeleteClient(id string) error {
	if err := s.db.DeleteClient(id); err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID
func (s *Service) GetClient(id string) (*Client, error) {
	client, err := s.db.GetClient(id)
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}
	return client, nil
}

// ListClients returns all clients ordered by name
func (s *Service) ListClients() ([]*Client, error) {
	clients, err := s.db.ListClients()
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	sort.SliceStable(clients, func(i, j int) bool {
		return clients[i].Name < clients[j].Name
	})
	return clients, nil
}
