package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
)

const summarySelect = `SELECT l.id, l.message, l.filter_country_id, l.filter_event_id,
	l.total_recipients, l.sent, l.failed, l.cancelled, l.sent_by_user_id, l.sent_at,
	c.name, e.name
	FROM broadcast_logs l
	LEFT JOIN countries c ON c.id = l.filter_country_id
	LEFT JOIN events e ON e.id = l.filter_event_id`

// SaveSummary appends a broadcast log entry and returns it with its id.
func (s *Store) SaveSummary(ctx context.Context, sum broadcast.Summary) (broadcast.Summary, error) {
	if err := ctx.Err(); err != nil {
		return broadcast.Summary{}, err
	}
	if sum.SentAt.IsZero() {
		sum.SentAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO broadcast_logs (message, filter_country_id, filter_event_id, total_recipients,
			sent, failed, cancelled, sent_by_user_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		sum.Message, nullInt(sum.CountryID), nullInt(sum.EventID), sum.TotalRecipients,
		sum.Sent, sum.Failed, sum.Cancelled, nullInt(sum.InitiatorID), sum.SentAt.UnixMilli(),
	).Scan(&sum.ID)
	if err != nil {
		return broadcast.Summary{}, fmt.Errorf("insert broadcast log: %w", err)
	}
	// Stored precision is milliseconds.
	sum.SentAt = time.UnixMilli(sum.SentAt.UnixMilli()).UTC()
	return sum, nil
}

// ListSummaries returns broadcast logs, newest first. limit <= 0 means all.
func (s *Store) ListSummaries(ctx context.Context, limit, offset int) ([]broadcast.Summary, error) {
	q := summarySelect + " ORDER BY l.sent_at DESC, l.id DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list broadcast logs: %w", err)
	}
	defer rows.Close()

	out := []broadcast.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list broadcast logs: %w", err)
	}
	return out, nil
}

// GetSummary returns one broadcast log or ErrNotFound.
func (s *Store) GetSummary(ctx context.Context, id int64) (broadcast.Summary, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(summarySelect+" WHERE l.id = ?"), id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return broadcast.Summary{}, fmt.Errorf("broadcast log %d: %w", id, ErrNotFound)
	}
	return sum, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(sc scanner) (broadcast.Summary, error) {
	var (
		sum                       broadcast.Summary
		country, event, initiator sql.NullInt64
		countryName, eventName    sql.NullString
		sentAt                    int64
	)
	err := sc.Scan(&sum.ID, &sum.Message, &country, &event, &sum.TotalRecipients,
		&sum.Sent, &sum.Failed, &sum.Cancelled, &initiator, &sentAt, &countryName, &eventName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return broadcast.Summary{}, err
		}
		return broadcast.Summary{}, fmt.Errorf("scan broadcast log: %w", err)
	}
	sum.CountryID = ptrInt(country)
	sum.EventID = ptrInt(event)
	sum.InitiatorID = ptrInt(initiator)
	sum.SentAt = time.UnixMilli(sentAt).UTC()
	sum.Country = filterRef(country, countryName)
	sum.Event = filterRef(event, eventName)
	return sum, nil
}

func filterRef(id sql.NullInt64, title sql.NullString) *broadcast.FilterRef {
	if !id.Valid || !title.Valid {
		return nil
	}
	return &broadcast.FilterRef{ID: id.Int64, Title: title.String}
}
