package services

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/danicanod/banker/src/database"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
)

var ErrEventNotFound = errors.New("event not found")

type eventServiceImpl struct{}

func NewEventService() EventService {
	return &eventServiceImpl{}
}

func (s *eventServiceImpl) GetEvents(eventType string, acknowledged *bool, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, type, transaction_id, bank_id, COALESCE(bank_code, ''), COALESCE(amount, 0),
		       COALESCE(description, ''), COALESCE(metadata, ''), acknowledged, created_at
		FROM events`
	conditions := []string{}
	args := []any{}
	if eventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, eventType)
	}
	if acknowledged != nil {
		conditions = append(conditions, "acknowledged = ?")
		args = append(args, *acknowledged)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := database.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		var txID, bankID sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.Type, &txID, &bankID, &ev.BankCode, &ev.Amount,
			&ev.Description, &ev.Metadata, &ev.Acknowledged, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if txID.Valid {
			ev.TransactionID = &txID.Int64
		}
		if bankID.Valid {
			ev.BankID = &bankID.Int64
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AcknowledgeEvent flips the acknowledged flag. Acknowledging an already-acked
// event is a no-op, not an error.
func (s *eventServiceImpl) AcknowledgeEvent(id int64) error {
	res, err := database.DB.Exec("UPDATE events SET acknowledged = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("acknowledging event %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *eventServiceImpl) AcknowledgeAllEvents(eventType string) (int64, error) {
	query := "UPDATE events SET acknowledged = TRUE WHERE acknowledged = FALSE"
	args := []any{}
	if eventType != "" {
		query += " AND type = ?"
		args = append(args, eventType)
	}
	res, err := database.DB.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("acknowledging events: %w", err)
	}
	affected, _ := res.RowsAffected()
	logger.L.Info("Acknowledged events", "type", eventType, "count", affected)
	return affected, nil
}
