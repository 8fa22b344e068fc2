package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry records one permission denial.
type Entry struct {
	ID        string         `json:"id"`
	Principal string         `json:"principal"`
	Tenant    string         `json:"tenant,omitempty"`
	Resource  string         `json:"resource"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// NewEntry stamps an entry with a fresh identifier.
func NewEntry(principal, tenant, resource, action string, at time.Time, context map[string]any) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Principal: principal,
		Tenant:    tenant,
		Resource:  resource,
		Action:    action,
		Timestamp: at.UTC(),
		Context:   context,
	}
}

// Sink receives permission-denied events.
type Sink interface {
	LogPermissionDenied(ctx context.Context, entry Entry) error
}

// MultiSink fans an entry out to several sinks. Every sink is attempted;
// all failures are joined.
type MultiSink []Sink

// LogPermissionDenied implements Sink.
func (m MultiSink) LogPermissionDenied(ctx context.Context, entry Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.LogPermissionDenied(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopSink discards entries.
type NopSink struct{}

// LogPermissionDenied implements Sink.
func (NopSink) LogPermissionDenied(context.Context, Entry) error { return nil }
