package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
)

const eventColumns = "id, created_at, type, level, kind, active, message, alert_count, details"

// CreateEvent inserts a printer event
func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.PrinterEvent) error {
	if event.Type == "" || event.Level == "" {
		return fmt.Errorf("event type and level are required: %w", ErrInvalidData)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO printer_events (` + eventColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.Type, event.Level, event.Kind,
		event.Active, event.Message, event.AlertCount, event.Details,
	)
	return err
}

// GetEvent returns a single event
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*models.PrinterEvent, error) {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("event id %q: %w", id, ErrInvalidData)
	}

	row := s.getDB().QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM printer_events WHERE id = $1", eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return event, err
}

// ListEvents lists events with filters, newest first
func (s *PostgresStore) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.PrinterEvent, int64, error) {
	where, args := buildEventFilter(filters)

	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM printer_events"+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT " + eventColumns + " FROM printer_events" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.PrinterEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, rows.Err()
}

// DeleteEventsBefore prunes history older than before
func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.getDB().ExecContext(ctx, "DELETE FROM printer_events WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.PrinterEvent, error) {
	event := &models.PrinterEvent{}
	err := row.Scan(
		&event.ID, &event.CreatedAt, &event.Type, &event.Level, &event.Kind,
		&event.Active, &event.Message, &event.AlertCount, &event.Details,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// buildEventFilter returns a WHERE clause with $n placeholders and its args.
func buildEventFilter(filters EventFilters) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.Type != nil {
		add("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		add("level = $%d", *filters.Level)
	}
	if filters.Kind != nil {
		add("kind = $%d", string(*filters.Kind))
	}
	if filters.Active != nil {
		add("active = $%d", *filters.Active)
	}
	if filters.StartTime != nil {
		add("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("created_at <= $%d", *filters.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
