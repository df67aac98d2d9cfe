package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsched/medsched/internal/platform/db"
)

const uniqueViolation = "23505"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

// withTx runs fn in a transaction, or in a savepoint of the one in ctx.
func (r *repoPG) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if outer := db.TxFromContext(ctx); outer != nil {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = r.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const schedCols = `id, doctor_id, date, is_active, notes, created_at, updated_at`

func scanSchedule(row pgx.Row) (*DaySchedule, error) {
	var (
		s    DaySchedule
		date time.Time
	)
	err := row.Scan(&s.ID, &s.DoctorID, &date, &s.IsActive, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Date = DateOf(date)
	return &s, nil
}

const slotCols = `start_minute, end_minute, is_available, max_appointments, current_appointments`

func scanSlot(row pgx.Row) (TimeSlot, error) {
	var (
		sl         TimeSlot
		start, end int
	)
	if err := row.Scan(&start, &end, &sl.IsAvailable, &sl.MaxAppointments, &sl.CurrentAppointments); err != nil {
		return TimeSlot{}, err
	}
	sl.StartTime, sl.EndTime = ClockTime(start), ClockTime(end)
	return sl, nil
}

// loadSlots fills TimeSlots for every schedule in scheds with one query.
func loadSlots(ctx context.Context, q db.Queryable, scheds []*DaySchedule, lock bool) error {
	if len(scheds) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*DaySchedule, len(scheds))
	ids := make([]uuid.UUID, 0, len(scheds))
	for _, s := range scheds {
		s.TimeSlots = []TimeSlot{}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	query := `SELECT schedule_id, ` + slotCols + ` FROM time_slot
		WHERE schedule_id = ANY($1) ORDER BY schedule_id, start_minute`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sid        uuid.UUID
			sl         TimeSlot
			start, end int
		)
		if err := rows.Scan(&sid, &start, &end, &sl.IsAvailable, &sl.MaxAppointments, &sl.CurrentAppointments); err != nil {
			return err
		}
		sl.StartTime, sl.EndTime = ClockTime(start), ClockTime(end)
		if s, ok := byID[sid]; ok {
			s.TimeSlots = append(s.TimeSlots, sl)
		}
	}
	return rows.Err()
}

func (r *repoPG) getOne(ctx context.Context, q db.Queryable, where string, args ...interface{}) (*DaySchedule, error) {
	s, err := scanSchedule(q.QueryRow(ctx, `SELECT `+schedCols+` FROM day_schedule WHERE `+where, args...))
	if err != nil {
		return nil, err
	}
	if err := loadSlots(ctx, q, []*DaySchedule{s}, false); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*DaySchedule, error) {
	return r.getOne(ctx, r.conn(ctx), `id = $1`, id)
}

func (r *repoPG) GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) (*DaySchedule, error) {
	return r.getOne(ctx, r.conn(ctx), `doctor_id = $1 AND date = $2`, doctorID, date.Time)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]*DaySchedule, error) {
	query := `SELECT ` + schedCols + ` FROM day_schedule WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if !dr.From.IsZero() {
		args = append(args, dr.From.Time)
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if !dr.To.IsZero() {
		args = append(args, dr.To.Time)
		query += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	query += ` ORDER BY date`

	q := r.conn(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items := []*DaySchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadSlots(ctx, q, items, false); err != nil {
		return nil, err
	}
	return items, nil
}

func insertSlots(ctx context.Context, tx pgx.Tx, scheduleID uuid.UUID, slots []TimeSlot) error {
	batch := &pgx.Batch{}
	for _, sl := range slots {
		batch.Queue(`INSERT INTO time_slot (schedule_id, `+slotCols+`) VALUES ($1,$2,$3,$4,$5,$6)`,
			scheduleID, int(sl.StartTime), int(sl.EndTime), sl.IsAvailable, sl.MaxAppointments, sl.CurrentAppointments)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *repoPG) Create(ctx context.Context, s *DaySchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO day_schedule (id, doctor_id, date, is_active, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at`,
			s.ID, s.DoctorID, s.Date.Time, s.IsActive, s.Notes).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrDuplicateSchedule
			}
			return err
		}
		return insertSlots(ctx, tx, s.ID, s.TimeSlots)
	})
}

// lockSchedule reads a schedule and its slots FOR UPDATE.
func lockSchedule(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*DaySchedule, error) {
	s, err := scanSchedule(tx.QueryRow(ctx, `SELECT `+schedCols+` FROM day_schedule WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := loadSlots(ctx, tx, []*DaySchedule{s}, true); err != nil {
		return nil, err
	}
	return s, nil
}

// Update rewrites slots in place (delete removed, update kept, insert new)
// under the day's row lock. A concurrent ReserveSlot waits on that lock and
// then sees the new capacity and is_active.
func (r *repoPG) Update(ctx context.Context, id uuid.UUID, apply func(*DaySchedule) error) (*DaySchedule, error) {
	var out *DaySchedule
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := apply(next); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			UPDATE day_schedule SET is_active = $2, notes = $3, updated_at = NOW()
			WHERE id = $1 RETURNING updated_at`,
			id, next.IsActive, next.Notes).Scan(&next.UpdatedAt); err != nil {
			return err
		}

		keep := make(map[ClockTime]bool, len(next.TimeSlots))
		var added []TimeSlot
		batch := &pgx.Batch{}
		for _, sl := range next.TimeSlots {
			keep[sl.StartTime] = true
			if _, existed := cur.Slot(sl.StartTime); !existed {
				added = append(added, sl)
				continue
			}
			batch.Queue(`UPDATE time_slot SET end_minute = $3, is_available = $4, max_appointments = $5
				WHERE schedule_id = $1 AND start_minute = $2`,
				id, int(sl.StartTime), int(sl.EndTime), sl.IsAvailable, sl.MaxAppointments)
		}
		for _, sl := range cur.TimeSlots {
			if !keep[sl.StartTime] {
				batch.Queue(`DELETE FROM time_slot WHERE schedule_id = $1 AND start_minute = $2`, id, int(sl.StartTime))
			}
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}
		if err := insertSlots(ctx, tx, id, added); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID, check func(*DaySchedule) error) (*DaySchedule, error) {
	var out *DaySchedule
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(cur.Clone()); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM day_schedule WHERE id = $1`, id); err != nil {
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

// ReserveSlot share-locks the day row, so it waits for an Update or Delete
// in flight and then sees the committed is_active. The increment itself is
// one conditional UPDATE: the capacity check and the write cannot
// interleave with another reservation on the same slot.
func (r *repoPG) ReserveSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*TimeSlot, error) {
	var out *TimeSlot
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			scheduleID uuid.UUID
			active     bool
		)
		err := tx.QueryRow(ctx, `
			SELECT id, is_active FROM day_schedule
			WHERE doctor_id = $1 AND date = $2
			FOR SHARE`,
			doctorID, date.Time).Scan(&scheduleID, &active)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrSlotNotFound
		case err != nil:
			return err
		case !active:
			return slotExists(ctx, tx, scheduleID, start, ErrSlotUnavailable)
		}

		sl, err := scanSlot(tx.QueryRow(ctx, `
			UPDATE time_slot
			SET current_appointments = current_appointments + 1
			WHERE schedule_id = $1 AND start_minute = $2
			  AND is_available AND current_appointments < max_appointments
			RETURNING `+slotCols,
			scheduleID, int(start)))
		if err == nil {
			out = &sl
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// Nothing was updated; work out why.
		var available bool
		err = tx.QueryRow(ctx, `
			SELECT is_available FROM time_slot WHERE schedule_id = $1 AND start_minute = $2`,
			scheduleID, int(start)).Scan(&available)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrSlotNotFound
		case err != nil:
			return err
		case !available:
			return ErrSlotUnavailable
		default:
			return ErrSlotFull
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// slotExists returns reason when the slot exists and ErrSlotNotFound when
// it does not.
func slotExists(ctx context.Context, tx pgx.Tx, scheduleID uuid.UUID, start ClockTime, reason error) error {
	var found bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM time_slot WHERE schedule_id = $1 AND start_minute = $2)`,
		scheduleID, int(start)).Scan(&found)
	if err != nil {
		return err
	}
	if !found {
		return ErrSlotNotFound
	}
	return reason
}

func (r *repoPG) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime) (*TimeSlot, bool, error) {
	q := r.conn(ctx)
	sl, err := scanSlot(q.QueryRow(ctx, `
		UPDATE time_slot ts
		SET current_appointments = ts.current_appointments - 1
		FROM day_schedule ds
		WHERE ts.schedule_id = ds.id
		  AND ds.doctor_id = $1 AND ds.date = $2 AND ts.start_minute = $3
		  AND ts.current_appointments > 0
		RETURNING ts.start_minute, ts.end_minute, ts.is_available, ts.max_appointments, ts.current_appointments`,
		doctorID, date.Time, int(start)))
	if err == nil {
		return &sl, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	sl, err = scanSlot(q.QueryRow(ctx, `
		SELECT ts.start_minute, ts.end_minute, ts.is_available, ts.max_appointments, ts.current_appointments
		FROM time_slot ts JOIN day_schedule ds ON ds.id = ts.schedule_id
		WHERE ds.doctor_id = $1 AND ds.date = $2 AND ts.start_minute = $3`,
		doctorID, date.Time, int(start)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrSlotNotFound
	}
	if err != nil {
		return nil, false, err
	}
	return &sl, true, nil
}
