package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
)

// NotifierService drains unacknowledged transaction.created events into an
// email digest. Delivery is at-least-once: events are only acknowledged after
// the email goes out, so a crashed run re-sends on the next tick.
type NotifierService struct {
	events      EventService
	email       EmailService
	notifyEmail string
}

func NewNotifierService(events EventService, email EmailService, notifyEmail string) *NotifierService {
	return &NotifierService{events: events, email: email, notifyEmail: notifyEmail}
}

// NotifyPending sends one digest covering all currently unacknowledged
// creation events and acknowledges them on success. Returns the number of
// events covered.
func (n *NotifierService) NotifyPending() (int, error) {
	if n.notifyEmail == "" {
		return 0, nil
	}

	unacked := false
	events, err := n.events.GetEvents(models.EventTransactionCreated, &unacked, 200)
	if err != nil {
		return 0, fmt.Errorf("loading pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	subject := fmt.Sprintf("Banker: %d new transaction(s)", len(events))
	if err := n.email.SendTransactionDigest(n.notifyEmail, subject, buildDigestBody(events)); err != nil {
		return 0, err
	}

	for _, ev := range events {
		if err := n.events.AcknowledgeEvent(ev.ID); err != nil {
			logger.L.Warn("Failed to acknowledge notified event", "eventID", ev.ID, "error", err)
		}
	}
	return len(events), nil
}

// Run loops NotifyPending on the given interval until the context is canceled.
func (n *NotifierService) Run(ctx context.Context, interval time.Duration) {
	if n.notifyEmail == "" {
		logger.L.Info("NOTIFY_EMAIL not configured; notifier disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.L.Info("Notifier started", "interval", interval, "to", n.notifyEmail)
	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Notifier stopped")
			return
		case <-ticker.C:
			count, err := n.NotifyPending()
			if err != nil {
				logger.L.Error("Notifier run failed", "error", err)
			} else if count > 0 {
				logger.L.Info("Notifier run complete", "eventsNotified", count)
			}
		}
	}
}

func buildDigestBody(events []models.Event) string {
	var b strings.Builder
	b.WriteString("New transactions observed:\n\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "- [%s] %.2f %s\n", ev.BankCode, ev.Amount, ev.Description)
	}
	return b.String()
}
