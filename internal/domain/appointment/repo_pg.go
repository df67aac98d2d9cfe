package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medsched/medsched/internal/domain/scheduling"
	"github.com/medsched/medsched/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

var columns = []interface{}{
	"id", "doctor_id", "patient_id", "date", "start_minute", "end_minute", "status",
	"reason", "notes", goqu.L("consultation_fee::text"), "cancellation_reason", "created_at", "updated_at",
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		date       time.Time
		start, end int
		status     string
		fee        string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &date, &start, &end, &status,
		&a.Reason, &a.Notes, &fee, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Date = scheduling.DateOf(date)
	a.StartTime, a.EndTime = scheduling.ClockTime(start), scheduling.ClockTime(end)
	a.Status = Status(status)
	if a.ConsultationFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse consultation_fee %q: %w", fee, err)
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query, args, err := dialect.Insert("appointment").Prepared(true).Rows(goqu.Record{
		"id":                  a.ID,
		"doctor_id":           a.DoctorID,
		"patient_id":          a.PatientID,
		"date":                a.Date.Time,
		"start_minute":        int(a.StartTime),
		"end_minute":          int(a.EndTime),
		"status":              string(a.Status),
		"reason":              a.Reason,
		"notes":               a.Notes,
		"consultation_fee":    a.ConsultationFee.String(),
		"cancellation_reason": a.CancellationReason,
	}).Returning("created_at", "updated_at").ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, query, args...).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := dialect.From("appointment").Prepared(true).
		Select(columns...).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return scanAppointment(r.conn(ctx).QueryRow(ctx, query, args...))
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, apply func(*Appointment) error) (*Appointment, error) {
	query, args, err := dialect.From("appointment").Prepared(true).
		Select(columns...).Where(goqu.Ex{"id": id}).ForUpdate(goqu.Wait).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out *Appointment
	err = db.NewPoolTx(r.pool).InTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		cur, err := scanAppointment(q.QueryRow(ctx, query, args...))
		if err != nil {
			return err
		}
		if err := apply(cur); err != nil {
			return err
		}

		upd, uargs, err := dialect.Update("appointment").Prepared(true).Set(goqu.Record{
			"status":              string(cur.Status),
			"notes":               cur.Notes,
			"cancellation_reason": cur.CancellationReason,
			"updated_at":          goqu.L("NOW()"),
		}).Where(goqu.Ex{"id": id}).Returning("updated_at").ToSQL()
		if err != nil {
			return fmt.Errorf("build update query: %w", err)
		}
		if err := q.QueryRow(ctx, upd, uargs...).Scan(&cur.UpdatedAt); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func filtered(f ListFilter) *goqu.SelectDataset {
	ds := dialect.From("appointment").Prepared(true)
	if f.DoctorID != nil {
		ds = ds.Where(goqu.Ex{"doctor_id": *f.DoctorID})
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.Ex{"patient_id": *f.PatientID})
	}
	if f.Status != nil {
		ds = ds.Where(goqu.Ex{"status": string(*f.Status)})
	}
	if f.From != nil {
		ds = ds.Where(goqu.C("date").Gte(f.From.Time))
	}
	if f.To != nil {
		ds = ds.Where(goqu.C("date").Lte(f.To.Time))
	}
	return ds
}

func (r *repoPG) query(ctx context.Context, ds *goqu.SelectDataset) ([]*Appointment, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

var listOrder = []exp.OrderedExpression{
	goqu.C("date").Asc(), goqu.C("start_minute").Asc(), goqu.C("created_at").Asc(),
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	countSQL, countArgs, err := filtered(f).Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	ds := filtered(f).Select(columns...).Order(listOrder...).
		Limit(uint(f.Limit)).Offset(uint(f.Offset))
	items, err := r.query(ctx, ds)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to scheduling.Date) ([]*Appointment, error) {
	ds := filtered(ListFilter{DoctorID: &doctorID, From: &from, To: &to}).
		Select(columns...).Order(listOrder...)
	return r.query(ctx, ds)
}

type feesPG struct{ pool *pgxpool.Pool }

// NewFeeDirectoryPG reads fees from doctor_profile.
func NewFeeDirectoryPG(pool *pgxpool.Pool) FeeDirectory { return &feesPG{pool: pool} }

func (f *feesPG) ConsultationFee(ctx context.Context, doctorID uuid.UUID) (decimal.Decimal, bool, error) {
	query, args, err := dialect.From("doctor_profile").Prepared(true).
		Select(goqu.L("consultation_fee::text")).Where(goqu.Ex{"doctor_id": doctorID}).ToSQL()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("build query: %w", err)
	}
	var raw string
	err = db.Conn(ctx, f.pool).QueryRow(ctx, query, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse consultation_fee %q: %w", raw, err)
	}
	return fee, true, nil
}
