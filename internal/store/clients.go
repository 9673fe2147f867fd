package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
)

// Client is a directory entry that campaigns can target.
type Client struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Caption   string
	CountryID *int64
	EventIDs  []int64
}

// AddCountry inserts a country and returns its id.
func (s *Store) AddCountry(ctx context.Context, name string) (int64, error) {
	return s.insertID(ctx, "INSERT INTO countries (name) VALUES (?) RETURNING id", name)
}

// AddEvent inserts an event and returns its id.
func (s *Store) AddEvent(ctx context.Context, name string) (int64, error) {
	return s.insertID(ctx, "INSERT INTO events (name) VALUES (?) RETURNING id", name)
}

// SaveClient inserts c, or updates the existing client with the same phone,
// and replaces its event memberships. It returns the client id.
func (s *Store) SaveClient(ctx context.Context, c Client) (int64, error) {
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Phone == "" {
		return 0, fmt.Errorf("store: client phone is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save client: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO clients (name, email, phone, caption, country_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (phone) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			caption = excluded.caption,
			country_id = excluded.country_id
		RETURNING id`),
		c.Name, c.Email, c.Phone, c.Caption, nullInt(c.CountryID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save client %s: %w", c.Phone, err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM client_events WHERE client_id = ?"), id); err != nil {
		return 0, fmt.Errorf("clear client events: %w", err)
	}
	for _, ev := range c.EventIDs {
		if _, err := tx.ExecContext(ctx, s.rebind(
			"INSERT INTO client_events (client_id, event_id) VALUES (?, ?) ON CONFLICT DO NOTHING"), id, ev); err != nil {
			return 0, fmt.Errorf("link client %d to event %d: %w", id, ev, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save client: %w", err)
	}
	return id, nil
}

// Resolve returns the distinct clients matching f, ordered by id.
func (s *Store) Resolve(ctx context.Context, f broadcast.Filters) ([]broadcast.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := "SELECT DISTINCT c.id, c.name, c.phone FROM clients c"
	var (
		where []string
		args  []any
	)
	if f.EventID != nil {
		q += " JOIN client_events ce ON ce.client_id = c.id"
		where = append(where, "ce.event_id = ?")
		args = append(args, *f.EventID)
	}
	if f.CountryID != nil {
		where = append(where, "c.country_id = ?")
		args = append(args, *f.CountryID)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY c.id"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	defer rows.Close()

	var out []broadcast.Recipient
	for rows.Next() {
		var r broadcast.Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return out, nil
}

func (s *Store) insertID(ctx context.Context, q string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.rebind(q), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return id, nil
}
