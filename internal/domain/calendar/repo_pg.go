package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcal/calendar/internal/platform/db"
	"github.com/medcal/calendar/pkg/interval"
)

const pgUniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the PostgreSQL Store. Calls made under InTx join the
// transaction carried in the context.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (r *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

// LockDay takes a transaction-scoped advisory lock on the doctor's day.
func (r *PGStore) LockDay(ctx context.Context, doctorID string, date Date) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return ErrNoTransaction
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, DayLockKey(doctorID, date))
	if err != nil {
		return fmt.Errorf("lock day %s/%s: %w", doctorID, date, err)
	}
	return nil
}

// DayLockKey names the serialization domain of one doctor's day.
func DayLockKey(doctorID string, date Date) string {
	return "booking:" + doctorID + ":" + date.String()
}

// pgTime converts between TimeOfDay and the TIME column type.
func pgTime(t interval.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Second/time.Microsecond), Valid: true}
}

func fromPGTime(t pgtype.Time) interval.TimeOfDay {
	return interval.TimeOfDay(t.Microseconds / int64(time.Second/time.Microsecond))
}

// =========== Doctors ===========

func (r *PGStore) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, room FROM doctors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Room); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortDoctors(out)
	return out, nil
}

func (r *PGStore) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, room FROM doctors WHERE id = $1`, id).Scan(&d.ID, &d.Name, &d.Room)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PGStore) UpsertDoctor(ctx context.Context, d Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (id, name, room) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, room = EXCLUDED.room`,
		d.ID, d.Name, d.Room)
	return err
}

// =========== Shifts ===========

const shiftCols = `doctor_id, shift_kind, weekday, start_time, end_time`

func (r *PGStore) queryShifts(ctx context.Context, where string, args ...interface{}) ([]WorkShift, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+shiftCols+` FROM work_shifts WHERE `+where+
		` ORDER BY doctor_id, weekday, start_time`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkShift
	for rows.Next() {
		var s WorkShift
		var start, end pgtype.Time
		var weekday int16
		if err := rows.Scan(&s.DoctorID, &s.Kind, &weekday, &start, &end); err != nil {
			return nil, err
		}
		s.Weekday = int(weekday)
		s.Start, s.End = fromPGTime(start), fromPGTime(end)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGStore) ShiftsForDay(ctx context.Context, doctorID string, weekday int) ([]WorkShift, error) {
	return r.queryShifts(ctx, `doctor_id = $1 AND weekday = $2`, doctorID, weekday)
}

func (r *PGStore) ShiftsByWeekday(ctx context.Context, weekday int) ([]WorkShift, error) {
	return r.queryShifts(ctx, `weekday = $1`, weekday)
}

func (r *PGStore) ShiftsByKind(ctx context.Context, kind string) ([]WorkShift, error) {
	return r.queryShifts(ctx, `shift_kind = $1`, kind)
}

func (r *PGStore) ShiftKinds(ctx context.Context) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT DISTINCT shift_kind FROM work_shifts ORDER BY shift_kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var kinds []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}

func (r *PGStore) UpsertShift(ctx context.Context, s WorkShift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO work_shifts (`+shiftCols+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, weekday, shift_kind)
		DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
		s.DoctorID, s.Kind, s.Weekday, pgTime(s.Start), pgTime(s.End))
	return err
}

// =========== Exceptions ===========

const exceptionCols = `doctor_id, date, start_time, end_time, is_available`

func (r *PGStore) queryExceptions(ctx context.Context, where string, args ...interface{}) ([]ShiftException, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+exceptionCols+` FROM shift_exceptions WHERE `+where+
		` ORDER BY doctor_id, start_time, end_time`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShiftException
	for rows.Next() {
		var e ShiftException
		var date time.Time
		var start, end pgtype.Time
		if err := rows.Scan(&e.DoctorID, &date, &start, &end, &e.IsAvailable); err != nil {
			return nil, err
		}
		e.Date = DateOf(date)
		e.Start, e.End = fromPGTime(start), fromPGTime(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGStore) ExceptionsForDay(ctx context.Context, doctorID string, date Date) ([]ShiftException, error) {
	return r.queryExceptions(ctx, `doctor_id = $1 AND date = $2`, doctorID, date.Time)
}

func (r *PGStore) ExceptionsOnDate(ctx context.Context, date Date) ([]ShiftException, error) {
	return r.queryExceptions(ctx, `date = $1`, date.Time)
}

func (r *PGStore) UpsertException(ctx context.Context, e ShiftException) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shift_exceptions (`+exceptionCols+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, date, start_time, end_time)
		DO UPDATE SET is_available = EXCLUDED.is_available`,
		e.DoctorID, e.Date.Time, pgTime(e.Start), pgTime(e.End), e.IsAvailable)
	return err
}

// =========== Appointments ===========

const apptCols = `id, doctor_id, patient_name, patient_email, patient_phone,
	date, start_time, end_time, status, created_at, canceled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end pgtype.Time
	var status string
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientName, &a.PatientEmail, &a.PatientPhone,
		&date, &start, &end, &status, &a.CreatedAt, &a.CanceledAt)
	if err != nil {
		return nil, err
	}
	a.Date = DateOf(date)
	a.Start, a.End = fromPGTime(start), fromPGTime(end)
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func (r *PGStore) queryAppointments(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func derefAll(as []*Appointment) []Appointment {
	out := make([]Appointment, len(as))
	for i, a := range as {
		out[i] = *a
	}
	return out
}

func (r *PGStore) AppointmentsForDay(ctx context.Context, doctorID string, date Date, status AppointmentStatus) ([]Appointment, error) {
	items, err := r.queryAppointments(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND ($3 = '' OR status = $3)
		ORDER BY start_time, id`, doctorID, date.Time, string(status))
	if err != nil {
		return nil, err
	}
	return derefAll(items), nil
}

func (r *PGStore) AppointmentsOnDate(ctx context.Context, date Date, status AppointmentStatus) ([]Appointment, error) {
	items, err := r.queryAppointments(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE date = $1 AND ($2 = '' OR status = $2)
		ORDER BY start_time, id`, date.Time, string(status))
	if err != nil {
		return nil, err
	}
	return derefAll(items), nil
}

func (r *PGStore) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != "" {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND date >= $%d`, idx)
		args = append(args, f.From.Time)
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND date <= $%d`, idx)
		args = append(args, f.To.Time)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// A non-positive limit returns every row, as in MemoryStore.
	query := `SELECT ` + apptCols + ` FROM appointments` + where + ` ORDER BY date, start_time, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, idx)
		args = append(args, limit)
		idx++
	}
	query += fmt.Sprintf(` OFFSET $%d`, idx)
	args = append(args, offset)
	items, err := r.queryAppointments(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PGStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

// InsertAppointment draws the booking code from appointment_code_seq. The
// partial unique index on booked (doctor_id, date, start_time) reports a
// double booking as ErrDuplicateBooking.
func (r *PGStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = StatusBooked
	}
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_name, patient_email, patient_phone,
			date, start_time, end_time, status)
		SELECT lpad(s.n::text, 5, '0'), $1, $2, $3, $4, $5, $6, $7, $8
		FROM (SELECT nextval('appointment_code_seq') AS n) s
		RETURNING (id)::bigint, created_at`,
		a.DoctorID, a.PatientName, a.PatientEmail, a.PatientPhone,
		a.Date.Time, pgTime(a.Start), pgTime(a.End), string(a.Status)).Scan(&seq, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateBooking
		}
		return err
	}
	a.ID = FormatAppointmentID(seq)
	return nil
}

func (r *PGStore) UpdateAppointmentStatus(ctx context.Context, id string, from, to AppointmentStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			canceled_at = CASE WHEN $3 = 'canceled' THEN NOW() ELSE canceled_at END
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, ErrDuplicateBooking
		}
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrAppointmentNotFound
	}
	return false, nil
}
