package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
)

const (
	SerializationFailureCode = "40001"
	LockNotAvailableCode     = "55P03"
	QueryCanceledCode        = "57014"
)

const seatColumns = `id, game_id, grade_id, label, status, version, hold_buyer_id, held_at, hold_expires_at`

type Repository struct {
	pool *pgxpool.Pool
}

var _ inventory.SeatStore = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.StoreFailure(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return domain.StoreFailure(err, "set isolation")
	}

	if err := fn(tx); err != nil {
		return mapError(err, "tx")
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit tx")
	}
	return nil
}

func (r *Repository) GetSeat(ctx context.Context, seatID int64) (domain.Seat, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = $1`, seatID)
	seat, err := scanSeat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seat{}, errors.Wrapf(domain.ErrSeatNotFound, "seat %d", seatID)
	}
	if err != nil {
		return domain.Seat{}, mapError(err, "get seat")
	}
	return seat, nil
}

func (r *Repository) CompareAndSwapSeat(ctx context.Context, next domain.Seat, expectedVersion int64) (bool, error) {
	if next.Version <= expectedVersion {
		return false, errors.Wrapf(domain.ErrInvalidInput, "seat %d: version %d does not increase %d", next.ID, next.Version, expectedVersion)
	}
	tag, err := r.pool.Exec(ctx, updateSeatSQL, seatArgs(next, expectedVersion)...)
	if err != nil {
		return false, mapError(err, "swap seat")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// zero rows: either the version moved or the seat does not exist
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM seats WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return false, mapError(err, "check seat")
	}
	if !exists {
		return false, errors.Wrapf(domain.ErrSeatNotFound, "seat %d", next.ID)
	}
	return false, nil
}

// LockSeats takes FOR UPDATE row locks in ascending id order. The ctx
// deadline becomes the transaction's lock_timeout.
func (r *Repository) LockSeats(ctx context.Context, seatIDs []int64, fn func(ctx context.Context, unit inventory.CommitUnit) error) error {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if deadline, ok := ctx.Deadline(); ok {
			ms := time.Until(deadline).Milliseconds()
			if ms < 1 {
				return errors.Wrap(domain.ErrLockTimeout, "deadline passed before locking")
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
				return err
			}
		}

		rows, err := tx.Query(ctx, `SELECT `+seatColumns+` FROM seats WHERE id = ANY($1) ORDER BY id FOR UPDATE`, seatIDs)
		if err != nil {
			return err
		}
		seats, err := collectSeats(rows)
		if err != nil {
			return err
		}
		if len(seats) != len(uniqueIDs(seatIDs)) {
			return errors.Wrapf(domain.ErrSeatNotFound, "locked %d of %d seats", len(seats), len(seatIDs))
		}
		return fn(ctx, &commitUnit{tx: tx, seats: seats})
	})
	if err != nil && !domain.IsConflict(err) && errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(domain.ErrLockTimeout, err.Error())
	}
	return err
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	res, err := getReservation(ctx, r.pool, id, false)
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r *Repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seatColumns+`
		FROM seats WHERE status IN ('HELD', 'SELECTED') AND hold_expires_at <= $1
		ORDER BY hold_expires_at, id LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, mapError(err, "list expired holds")
	}
	seats, err := collectSeats(rows)
	if err != nil {
		return nil, mapError(err, "scan expired holds")
	}
	return seats, nil
}

// InsertSeats loads seats for a game. Existing rows are left untouched.
func (r *Repository) InsertSeats(ctx context.Context, seats []domain.Seat) error {
	batch := &pgx.Batch{}
	for _, s := range seats {
		status := s.Status
		if status == "" {
			status = domain.SeatAvailable
		}
		batch.Queue(`
			INSERT INTO seats (id, game_id, grade_id, label, status, version)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, s.ID, s.GameID, s.GradeID, s.Label, string(status), s.Version)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return mapError(err, "insert seats")
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getReservation(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (domain.Reservation, error) {
	query := `SELECT id, buyer_id, game_id, status, created_at FROM reservations WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		res    domain.Reservation
		status string
	)
	err := q.QueryRow(ctx, query, id).Scan(&res.ID, &res.BuyerID, &res.GameID, &status, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	}
	if err != nil {
		return domain.Reservation{}, mapError(err, "get reservation")
	}
	res.Status = domain.ReservationStatus(status)

	rows, err := q.Query(ctx, `SELECT seat_id FROM reservation_seats WHERE reservation_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.Reservation{}, mapError(err, "get reservation seats")
	}
	defer rows.Close()
	for rows.Next() {
		var seatID int64
		if err := rows.Scan(&seatID); err != nil {
			return domain.Reservation{}, mapError(err, "scan reservation seat")
		}
		res.SeatIDs = append(res.SeatIDs, seatID)
	}
	if err := rows.Err(); err != nil {
		return domain.Reservation{}, mapError(err, "read reservation seats")
	}
	return res, nil
}

const updateSeatSQL = `
	UPDATE seats
	SET status = $3, version = $4, hold_buyer_id = $5, held_at = $6, hold_expires_at = $7
	WHERE id = $1 AND version = $2
`

func seatArgs(s domain.Seat, expectedVersion int64) []any {
	var (
		buyer     *int64
		heldAt    *time.Time
		expiresAt *time.Time
	)
	if s.Status == domain.SeatHeld {
		buyer, heldAt, expiresAt = &s.HoldBuyerID, &s.HeldAt, &s.HoldExpiresAt
	}
	return []any{s.ID, expectedVersion, string(s.Status), s.Version, buyer, heldAt, expiresAt}
}

func scanSeat(row pgx.Row) (domain.Seat, error) {
	var (
		seat      domain.Seat
		status    string
		buyer     *int64
		heldAt    *time.Time
		expiresAt *time.Time
	)
	if err := row.Scan(&seat.ID, &seat.GameID, &seat.GradeID, &seat.Label, &status, &seat.Version, &buyer, &heldAt, &expiresAt); err != nil {
		return domain.Seat{}, err
	}
	parsed, err := domain.ParseSeatStatus(status)
	if err != nil {
		return domain.Seat{}, err
	}
	seat.Status = parsed
	if buyer != nil {
		seat.HoldBuyerID = *buyer
	}
	if heldAt != nil {
		seat.HeldAt = heldAt.UTC()
	}
	if expiresAt != nil {
		seat.HoldExpiresAt = expiresAt.UTC()
	}
	return seat, nil
}

func collectSeats(rows pgx.Rows) ([]domain.Seat, error) {
	defer rows.Close()
	var seats []domain.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// mapError leaves domain errors alone and translates driver errors.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if domain.IsConflict(err) || domain.IsNotFound(err) ||
		errors.IsAny(err, domain.ErrInvalidInput, domain.ErrVersionConflict, domain.ErrIllegalTransition, domain.ErrStoreUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Wrap(domain.ErrSerializationFailure, msg)
		case LockNotAvailableCode, QueryCanceledCode:
			return errors.Wrap(domain.ErrLockTimeout, msg)
		}
	}
	if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
		return errors.Wrap(err, msg)
	}
	return domain.StoreFailure(err, msg)
}

type commitUnit struct {
	tx    pgx.Tx
	seats []domain.Seat
}

func (u *commitUnit) Seats() []domain.Seat {
	out := make([]domain.Seat, len(u.seats))
	copy(out, u.seats)
	return out
}

func (u *commitUnit) UpdateSeat(ctx context.Context, next domain.Seat, expectedVersion int64) error {
	if next.Version <= expectedVersion {
		return errors.Wrapf(domain.ErrInvalidInput, "seat %d: version must increase", next.ID)
	}
	tag, err := u.tx.Exec(ctx, updateSeatSQL, seatArgs(next, expectedVersion)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrVersionConflict, "seat %d: expected version %d", next.ID, expectedVersion)
	}
	return nil
}

func (u *commitUnit) InsertReservation(ctx context.Context, res domain.Reservation) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO reservations (id, buyer_id, game_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.BuyerID, res.GameID, string(res.Status), res.CreatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, seatID := range res.SeatIDs {
		batch.Queue(`
			INSERT INTO reservation_seats (reservation_id, seat_id, position)
			VALUES ($1, $2, $3)
		`, res.ID, seatID, i)
	}
	return u.tx.SendBatch(ctx, batch).Close()
}

func (u *commitUnit) LockReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return getReservation(ctx, u.tx, id, true)
}

func (u *commitUnit) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status domain.ReservationStatus) error {
	tag, err := u.tx.Exec(ctx, `UPDATE reservations SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	}
	return nil
}

func (u *commitUnit) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	return insertOutbox(ctx, u.tx, rec)
}
