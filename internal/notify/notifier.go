package notify

import (
	"context"
	"errors"
	"time"

	"CalibrationMonitorAPI/internal/models"
)

// Notifier delivers one message to a resolved recipient list. Failures come back as errors;
// implementations must not panic into callers.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// UserDirectory resolves who should hear about a device.
type UserDirectory interface {
	RecipientsFor(device models.DeviceIdentity, role string) []string
}

// Notification is the wire shape handed to downstream delivery (mail bridge, live feed).
type Notification struct {
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// NotifierFunc adapts a plain function.
type NotifierFunc func(ctx context.Context, recipients []string, subject, body string) error

func (f NotifierFunc) Send(ctx context.Context, recipients []string, subject, body string) error {
	return f(ctx, recipients, subject, body)
}

// Multi sends through every notifier and fails if any of them failed.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, recipients []string, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, recipients, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
