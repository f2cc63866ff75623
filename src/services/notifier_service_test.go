package services_test

import (
	"strings"
	"testing"

	"github.com/danicanod/banker/src/services"
)

type recordingEmailService struct {
	sent []string
	to   string
	subj string
}

func (r *recordingEmailService) SendTransactionDigest(to, subject, body string) error {
	r.to = to
	r.subj = subject
	r.sent = append(r.sent, body)
	return nil
}

func TestNotifyPending(t *testing.T) {
	events, _ := seedEvents(t)
	email := &recordingEmailService{}
	notifier := services.NewNotifierService(events, email, "ops@example.com")

	count, err := notifier.NotifyPending()
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if count != 2 {
		t.Errorf("notified %d events, want 2", count)
	}
	if len(email.sent) != 1 {
		t.Fatalf("sent %d digests, want 1", len(email.sent))
	}
	if email.to != "ops@example.com" {
		t.Errorf("digest sent to %q", email.to)
	}
	if !strings.Contains(email.sent[0], "primero") || !strings.Contains(email.sent[0], "segundo") {
		t.Errorf("digest body missing transactions:\n%s", email.sent[0])
	}

	// Events are acknowledged after the send; the next run is a no-op.
	count, err = notifier.NotifyPending()
	if err != nil {
		t.Fatalf("second notify failed: %v", err)
	}
	if count != 0 || len(email.sent) != 1 {
		t.Errorf("second run re-notified: count=%d digests=%d", count, len(email.sent))
	}
}

func TestNotifyPendingDisabled(t *testing.T) {
	events, _ := seedEvents(t)
	email := &recordingEmailService{}
	notifier := services.NewNotifierService(events, email, "")

	count, err := notifier.NotifyPending()
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if count != 0 || len(email.sent) != 0 {
		t.Error("notifier ran without a configured recipient")
	}
}
