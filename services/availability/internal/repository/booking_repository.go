package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	// SpaceAvailabilityRPC is the optimized read path (get_space_availability_v2).
	SpaceAvailabilityRPC(ctx context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error)
	// ListActive is the direct filtered read used when the RPC is unavailable.
	ListActive(ctx context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error)
	ListActiveForSpaces(ctx context.Context, spaceIDs []string, startDate, endDate string) ([]domain.Booking, error)
	ListConflicts(ctx context.Context, spaceID, date, startTime, endTime, excludeID string) ([]domain.Booking, error)
	ValidateSlotWithLock(ctx context.Context, spaceID, date, startTime, endTime, userID string) ([]byte, error)
	AlternativeSlots(ctx context.Context, spaceID, date string, durationHours float64) ([]string, error)
	Create(ctx context.Context, b *domain.Booking) (*domain.Booking, error)
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	TransitionStatus(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (*domain.Booking, error)
	// MarkPaid stamps paid_at on a pending booking. It returns nil when the
	// booking is no longer pending.
	MarkPaid(ctx context.Context, id string) (*domain.Booking, error)
	// ExpirePending cancels unpaid pending bookings created before the cutoff.
	ExpirePending(ctx context.Context, createdBefore time.Time) ([]domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id::text, space_id::text, user_id::text,
to_char(booking_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
status::text, created_at, updated_at, paid_at`

// exclusion_violation raised by the no-overlap constraint on bookings
const pgExclusionViolation = "23P01"

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.SpaceID, &b.UserID,
		&b.Date, &b.StartTime, &b.EndTime,
		&b.Status, &b.CreatedAt, &b.UpdatedAt, &b.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func activeStatusArgs() []string {
	out := make([]string, 0, len(domain.ActiveStatuses))
	for _, s := range domain.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *bookingRepository) SpaceAvailabilityRPC(ctx context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error) {
	const q = `SELECT booking_id::text, to_char(booking_date, 'YYYY-MM-DD'),
		to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		status::text, coalesce(user_id::text, '')
		FROM get_space_availability_v2(space_id_param => $1::uuid, start_date_param => $2::date, end_date_param => $3::date)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, spaceID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b := domain.Booking{SpaceID: spaceID}
		if err := rows.Scan(&b.ID, &b.Date, &b.StartTime, &b.EndTime, &b.Status, &b.UserID); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *bookingRepository) ListActive(ctx context.Context, spaceID, startDate, endDate string) ([]domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings
		WHERE space_id = $1::uuid
		AND booking_date BETWEEN $2::date AND $3::date
		AND status::text = ANY($4::text[])
		ORDER BY booking_date, start_time`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, spaceID, startDate, endDate, activeStatusArgs())
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepository) ListActiveForSpaces(ctx context.Context, spaceIDs []string, startDate, endDate string) ([]domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings
		WHERE space_id::text = ANY($1::text[])
		AND booking_date BETWEEN $2::date AND $3::date
		AND status::text = ANY($4::text[])
		ORDER BY space_id, booking_date, start_time`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, spaceIDs, startDate, endDate, activeStatusArgs())
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepository) ListConflicts(ctx context.Context, spaceID, date, startTime, endTime, excludeID string) ([]domain.Booking, error) {
	q := `SELECT ` + bookingCols + ` FROM bookings
		WHERE space_id = $1::uuid
		AND booking_date = $2::date
		AND status::text = ANY($3::text[])
		AND start_time < $4::time AND end_time > $5::time`
	args := []any{spaceID, date, activeStatusArgs(), endTime, startTime}
	if excludeID != "" {
		q += ` AND id::text <> $6`
		args = append(args, excludeID)
	}
	q += ` ORDER BY start_time`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepository) ValidateSlotWithLock(ctx context.Context, spaceID, date, startTime, endTime, userID string) ([]byte, error) {
	const q = `SELECT validate_booking_slot_with_lock(
		space_id_param => $1::uuid,
		date_param => $2::date,
		start_time_param => $3::time,
		end_time_param => $4::time,
		user_id_param => $5::uuid
	)::text`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw *string
	if err := r.pool.QueryRow(ctx, q, spaceID, date, startTime, endTime, userID).Scan(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return []byte(*raw), nil
}

func (r *bookingRepository) AlternativeSlots(ctx context.Context, spaceID, date string, durationHours float64) ([]string, error) {
	const q = `SELECT coalesce(get_alternative_time_slots(
		space_id_param => $1::uuid,
		date_param => $2::date,
		duration_hours_param => $3
	), '{}')::text[]`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var out []string
	if err := r.pool.QueryRow(ctx, q, spaceID, date, durationHours).Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	const q = `INSERT INTO bookings (space_id, user_id, booking_date, start_time, end_time, status)
		VALUES ($1::uuid, $2::uuid, $3::date, $4::time, $5::time, $6)
		RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	created, err := scanBooking(r.pool.QueryRow(ctx, q,
		b.SpaceID, b.UserID, b.Date, b.StartTime, b.EndTime, string(b.Status),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, domain.ErrSlotUnavailable
		}
		return nil, err
	}
	return created, nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id::text = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) TransitionStatus(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus) (*domain.Booking, error) {
	const q = `UPDATE bookings SET status = $2, updated_at = now()
		WHERE id::text = $1 AND status::text = ANY($3::text[])
		RETURNING ` + bookingCols

	fromArgs := make([]string, 0, len(from))
	for _, s := range from {
		fromArgs = append(fromArgs, string(s))
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id, string(to), fromArgs))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) MarkPaid(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `UPDATE bookings SET paid_at = coalesce(paid_at, now()), updated_at = now()
		WHERE id::text = $1 AND status = 'pending'
		RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) ExpirePending(ctx context.Context, createdBefore time.Time) ([]domain.Booking, error) {
	const q = `UPDATE bookings SET status = 'cancelled', updated_at = now()
		WHERE status = 'pending' AND paid_at IS NULL AND created_at < $1
		RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, createdBefore)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}
