package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/intake/internal/platform/events"
)

// ValidationError is returned when input fails the intake schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// Service is the entry point every caller uses to reach the appointment
// store. It enforces the schema on writes and announces changes.
type Service struct {
	repo   Repository
	events events.Publisher
	logger zerolog.Logger
	tracer trace.Tracer
}

func NewService(repo Repository, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:   repo,
		events: pub,
		logger: logger,
		tracer: otel.Tracer("github.com/ehr/intake/appointment"),
	}
}

func (s *Service) List(ctx context.Context) ([]*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.List")
	defer span.End()

	items, err := s.repo.List(ctx)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("appointment.count", len(items)))
	return items, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*Appointment, bool, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.GetByID", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	a, found, err := s.repo.GetByID(ctx, id)
	if err != nil {
		recordErr(span, err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("appointment.found", found))
	return a, found, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Create")
	defer span.End()

	if errs := Validate(in); len(errs) > 0 {
		err := &ValidationError{Fields: errs}
		recordErr(span, err)
		return nil, err
	}
	a, err := s.repo.Create(ctx, in)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.id", a.ID))
	s.logger.Info().Str("appointment_id", a.ID).Str("specialty", a.Specialty).Msg("appointment created")
	s.publish(ctx, events.TypeCreated, a.ID, a)
	return a, nil
}

func (s *Service) Update(ctx context.Context, id string, p Patch) (*Appointment, bool, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Update", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	if errs := ValidatePatch(p); len(errs) > 0 {
		err := &ValidationError{Fields: errs}
		recordErr(span, err)
		return nil, false, err
	}
	a, found, err := s.repo.Update(ctx, id, p)
	if err != nil {
		recordErr(span, err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("appointment.found", found))
	if !found {
		return nil, false, nil
	}
	s.logger.Info().Str("appointment_id", a.ID).Msg("appointment updated")
	s.publish(ctx, events.TypeUpdated, a.ID, a)
	return a, true, nil
}

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Delete", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		recordErr(span, err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("appointment.removed", removed))
	if removed {
		s.logger.Info().Str("appointment_id", id).Msg("appointment deleted")
		s.publish(ctx, events.TypeDeleted, id, nil)
	}
	return removed, nil
}

// publish announces a change. The mutation has already happened, so a
// delivery failure is logged rather than returned.
func (s *Service) publish(ctx context.Context, eventType, id string, data interface{}) {
	ev, err := events.New(eventType, id, data)
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", id).Str("event_type", eventType).Msg("failed to publish appointment event")
	}
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
