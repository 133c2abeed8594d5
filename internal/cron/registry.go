package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
)

// RecurringSpec describes a job kind re-armed on a schedule. Name is the
// identity of the registration.
type RecurringSpec struct {
	Name     string
	Kind     string
	Schedule string
	Payload  any
	Priority int
}

type recurringStore interface {
	Upsert(ctx context.Context, job *models.RecurringJob) error
	Due(ctx context.Context, now time.Time) ([]models.RecurringJob, error)
	Advance(ctx context.Context, name string, lastRun, nextRun time.Time) error
	List(ctx context.Context) ([]models.RecurringJob, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Registry tracks recurring registrations.
type Registry struct {
	store recurringStore
	now   func() time.Time
}

// NewRegistry builds a registry over the store.
func NewRegistry(store recurringStore, now func() time.Time) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("recurring store required")
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}, nil
}

// Register stores spec, replacing any registration with the same name, and
// arms its first run.
func (r *Registry) Register(ctx context.Context, spec RecurringSpec) (*models.RecurringJob, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("registration name is required")
	}
	kind := strings.TrimSpace(spec.Kind)
	if kind == "" {
		return nil, fmt.Errorf("registration %q: kind is required", name)
	}
	next, err := NextRun(spec.Schedule, r.now())
	if err != nil {
		return nil, fmt.Errorf("registration %q: %w", name, err)
	}
	payload, err := encodePayload(spec.Payload)
	if err != nil {
		return nil, fmt.Errorf("registration %q: %w", name, err)
	}

	job := &models.RecurringJob{
		Name:      name,
		Kind:      kind,
		Schedule:  strings.TrimSpace(spec.Schedule),
		Payload:   payload,
		Priority:  spec.Priority,
		NextRunAt: next,
	}
	if err := r.store.Upsert(ctx, job); err != nil {
		return nil, fmt.Errorf("store registration %q: %w", name, err)
	}
	return job, nil
}

// Unregister removes a registration. Missing names are not an error.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	_, err := r.store.Delete(ctx, strings.TrimSpace(name))
	return err
}

// Registrations returns every stored registration.
func (r *Registry) Registrations(ctx context.Context) ([]models.RecurringJob, error) {
	return r.store.List(ctx)
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
