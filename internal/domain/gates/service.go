package gates

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type UpsertInput struct {
	Gate     string
	Name     string
	Location string

	IsActive        *bool
	MaintenanceMode *bool

	AllowedGates []string
	WorkingHours *WorkingHours

	ValidationTimeout time.Duration
	MaxRetryAttempts  int
	RetryInterval     time.Duration
	DataRetentionDays int
}

// Upsert crea la política si no existe, o la actualiza preservando contadores.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (Policy, error) {
	gate := strings.TrimSpace(in.Gate)
	if gate == "" {
		return Policy{}, ErrInvalidInput
	}

	now := s.now().UTC()

	existing, err := s.repo.GetByGate(ctx, gate)
	if err == nil {
		existing.Name = pickString(in.Name, existing.Name)
		existing.Location = pickString(in.Location, existing.Location)
		if in.IsActive != nil {
			existing.IsActive = *in.IsActive
		}
		if in.MaintenanceMode != nil {
			existing.MaintenanceMode = *in.MaintenanceMode
		}
		if in.AllowedGates != nil {
			existing.AllowedGates = in.AllowedGates
		}
		if in.WorkingHours != nil {
			existing.WorkingHours = in.WorkingHours
		}
		if in.ValidationTimeout > 0 {
			existing.ValidationTimeout = in.ValidationTimeout
		}
		if in.MaxRetryAttempts > 0 {
			existing.MaxRetryAttempts = in.MaxRetryAttempts
		}
		if in.RetryInterval > 0 {
			existing.RetryInterval = in.RetryInterval
		}
		if in.DataRetentionDays > 0 {
			existing.DataRetentionDays = in.DataRetentionDays
		}
		existing.UpdatedAt = now

		if err := s.repo.Update(ctx, existing); err != nil {
			return Policy{}, err
		}
		return existing, nil
	}

	p := Policy{
		Gate:              gate,
		Name:              strings.TrimSpace(in.Name),
		Location:          strings.TrimSpace(in.Location),
		IsActive:          true,
		MaintenanceMode:   false,
		AllowedGates:      in.AllowedGates,
		WorkingHours:      in.WorkingHours,
		ValidationTimeout: DefaultValidationTimeout,
		MaxRetryAttempts:  DefaultMaxRetryAttempts,
		RetryInterval:     DefaultRetryInterval,
		DataRetentionDays: DefaultRetentionDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if in.MaintenanceMode != nil {
		p.MaintenanceMode = *in.MaintenanceMode
	}
	if in.ValidationTimeout > 0 {
		p.ValidationTimeout = in.ValidationTimeout
	}
	if in.MaxRetryAttempts > 0 {
		p.MaxRetryAttempts = in.MaxRetryAttempts
	}
	if in.RetryInterval > 0 {
		p.RetryInterval = in.RetryInterval
	}
	if in.DataRetentionDays > 0 {
		p.DataRetentionDays = in.DataRetentionDays
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (s *Service) GetByGate(ctx context.Context, gate string) (Policy, error) {
	gate = strings.TrimSpace(gate)
	if gate == "" {
		return Policy{}, ErrInvalidInput
	}
	p, err := s.repo.GetByGate(ctx, gate)
	if err != nil {
		return Policy{}, ErrNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]Policy, error) {
	return s.repo.List(ctx)
}

func (s *Service) SetActive(ctx context.Context, gate string, active bool) (Policy, error) {
	p, err := s.GetByGate(ctx, gate)
	if err != nil {
		return Policy{}, err
	}
	p.IsActive = active
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, gate string) error {
	gate = strings.TrimSpace(gate)
	if gate == "" {
		return ErrInvalidInput
	}
	return s.repo.Delete(ctx, gate)
}

func pickString(in, fallback string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return fallback
	}
	return in
}
