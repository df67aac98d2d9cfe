package analytics

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medsched/medsched/internal/domain/appointment"
	"github.com/medsched/medsched/internal/domain/scheduling"
)

// ScheduleSource reads a doctor's day schedules in a date window.
type ScheduleSource interface {
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*scheduling.DaySchedule, error)
}

// AppointmentSource reads a doctor's appointments in a date window.
type AppointmentSource interface {
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*appointment.Appointment, error)
}

// Service aggregates read-only analytics over schedules and appointments.
type Service struct {
	schedules    ScheduleSource
	appointments AppointmentSource
	clock        scheduling.Clock
	logger       zerolog.Logger
}

func NewService(schedules ScheduleSource, appointments AppointmentSource, clock scheduling.Clock, logger zerolog.Logger) *Service {
	return &Service{schedules: schedules, appointments: appointments, clock: clock, logger: logger}
}

// Report builds the doctor's analytics for the period ending today.
func (s *Service) Report(ctx context.Context, doctorID uuid.UUID, period Period) (*Report, error) {
	from, to := period.Window(s.clock.Today())

	var (
		days  []*scheduling.DaySchedule
		appts []*appointment.Appointment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if days, err = s.schedules.ListByDoctorBetween(gctx, doctorID, from, to); err != nil {
			return fmt.Errorf("load schedules: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if appts, err = s.appointments.ListByDoctorBetween(gctx, doctorID, from, to); err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	util, totals := ComputeUtilization(days, appts)
	report := &Report{
		DoctorID:              doctorID.String(),
		Period:                period.String(),
		From:                  from,
		To:                    to,
		Totals:                totals,
		Utilization:           util,
		DailyStats:            ComputeDailyStats(from, to, days, appts),
		TimeSlotPopularity:    ComputeSlotPopularity(appts),
		DayOfWeekDistribution: ComputeDayOfWeek(appts),
	}

	s.logger.Debug().
		Str("doctor_id", report.DoctorID).
		Str("period", report.Period).
		Int("schedules", len(days)).
		Int("appointments", len(appts)).
		Msg("analytics report built")
	return report, nil
}
