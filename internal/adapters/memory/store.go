// Package memory is an in-process seat store. Every seat carries a one-slot
// lock channel used by LockSeats; conditional writes go through the store
// mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
)

type Store struct {
	mu           sync.RWMutex
	seats        map[int64]domain.Seat
	locks        map[int64]chan struct{}
	reservations map[uuid.UUID]domain.Reservation
	outbox       []domain.OutboxRecord
}

var _ inventory.SeatStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		seats:        make(map[int64]domain.Seat),
		locks:        make(map[int64]chan struct{}),
		reservations: make(map[uuid.UUID]domain.Reservation),
	}
}

// AddSeats seeds seats. Existing ids are overwritten.
func (s *Store) AddSeats(seats ...domain.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		if seat.Status == "" {
			seat.Status = domain.SeatAvailable
		}
		s.seats[seat.ID] = seat
		if _, ok := s.locks[seat.ID]; !ok {
			s.locks[seat.ID] = make(chan struct{}, 1)
		}
	}
}

func (s *Store) GetSeat(ctx context.Context, seatID int64) (domain.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seat, ok := s.seats[seatID]
	if !ok {
		return domain.Seat{}, errors.Wrapf(domain.ErrSeatNotFound, "seat %d", seatID)
	}
	return seat, nil
}

func (s *Store) CompareAndSwapSeat(ctx context.Context, next domain.Seat, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.seats[next.ID]
	if !ok {
		return false, errors.Wrapf(domain.ErrSeatNotFound, "seat %d", next.ID)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	if next.Version <= expectedVersion {
		return false, errors.Wrapf(domain.ErrInvalidInput, "seat %d: version %d does not increase %d", next.ID, next.Version, expectedVersion)
	}
	s.seats[next.ID] = next
	return true, nil
}

func (s *Store) LockSeats(ctx context.Context, seatIDs []int64, fn func(ctx context.Context, unit inventory.CommitUnit) error) error {
	ids := make([]int64, 0, len(seatIDs))
	seen := make(map[int64]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	chans := make([]chan struct{}, 0, len(ids))
	s.mu.RLock()
	for _, id := range ids {
		ch, ok := s.locks[id]
		if !ok {
			s.mu.RUnlock()
			return errors.Wrapf(domain.ErrSeatNotFound, "seat %d", id)
		}
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	held := 0
	defer func() {
		for i := held - 1; i >= 0; i-- {
			<-chans[i]
		}
	}()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			held++
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(domain.ErrLockTimeout, "locking %d seats", len(ids))
			}
			return ctx.Err()
		}
	}

	u := &unit{store: s}
	s.mu.RLock()
	for _, id := range ids {
		u.seats = append(u.seats, s.seats[id])
	}
	s.mu.RUnlock()

	if err := fn(ctx, u); err != nil {
		return err
	}
	return s.apply(u)
}

// apply commits the buffered writes of u all at once or not at all.
func (s *Store) apply(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range u.seatWrites {
		if cur := s.seats[w.next.ID]; cur.Version != w.expected {
			return errors.Wrapf(domain.ErrVersionConflict, "seat %d: expected version %d, current %d", w.next.ID, w.expected, cur.Version)
		}
		if w.next.Version <= w.expected {
			return errors.Wrapf(domain.ErrInvalidInput, "seat %d: version must increase", w.next.ID)
		}
	}
	for _, r := range u.inserts {
		if _, exists := s.reservations[r.ID]; exists {
			return errors.Wrapf(domain.ErrConflict, "reservation %s exists", r.ID)
		}
	}
	for id := range u.statuses {
		if _, ok := s.reservations[id]; !ok {
			if _, inserted := findInsert(u.inserts, id); !inserted {
				return errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
			}
		}
	}

	for _, w := range u.seatWrites {
		s.seats[w.next.ID] = w.next
	}
	for _, r := range u.inserts {
		s.reservations[r.ID] = r
	}
	for id, status := range u.statuses {
		r := s.reservations[id]
		r.Status = status
		s.reservations[id] = r
	}
	s.outbox = append(s.outbox, u.outbox...)
	return nil
}

func findInsert(inserts []domain.Reservation, id uuid.UUID) (domain.Reservation, bool) {
	for _, r := range inserts {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Reservation{}, false
}

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", id)
	}
	return cloneReservation(r), nil
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Seat, error) {
	s.mu.RLock()
	var expired []domain.Seat
	for _, seat := range s.seats {
		if seat.HoldExpired(now) {
			expired = append(expired, seat)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].HoldExpiresAt.Equal(expired[j].HoldExpiresAt) {
			return expired[i].ID < expired[j].ID
		}
		return expired[i].HoldExpiresAt.Before(expired[j].HoldExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// Outbox returns a copy of every outbox record written so far.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxRecord, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *Store) GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []domain.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Status != domain.OutboxStatusNew {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			at := publishedAt
			s.outbox[i].Status = domain.OutboxStatusPublished
			s.outbox[i].PublishedAt = &at
			return nil
		}
	}
	return errors.Wrapf(domain.ErrNotFound, "outbox record %s", id)
}

func cloneReservation(r domain.Reservation) domain.Reservation {
	seats := make([]int64, len(r.SeatIDs))
	copy(seats, r.SeatIDs)
	r.SeatIDs = seats
	return r
}

type seatWrite struct {
	next     domain.Seat
	expected int64
}

type unit struct {
	store      *Store
	seats      []domain.Seat
	seatWrites []seatWrite
	inserts    []domain.Reservation
	statuses   map[uuid.UUID]domain.ReservationStatus
	outbox     []domain.OutboxRecord
}

func (u *unit) Seats() []domain.Seat {
	out := make([]domain.Seat, len(u.seats))
	copy(out, u.seats)
	return out
}

func (u *unit) UpdateSeat(ctx context.Context, next domain.Seat, expectedVersion int64) error {
	u.seatWrites = append(u.seatWrites, seatWrite{next: next, expected: expectedVersion})
	return nil
}

func (u *unit) InsertReservation(ctx context.Context, r domain.Reservation) error {
	u.inserts = append(u.inserts, cloneReservation(r))
	return nil
}

func (u *unit) LockReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	if r, ok := findInsert(u.inserts, id); ok {
		return cloneReservation(r), nil
	}
	return u.store.GetReservation(ctx, id)
}

func (u *unit) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status domain.ReservationStatus) error {
	if u.statuses == nil {
		u.statuses = make(map[uuid.UUID]domain.ReservationStatus)
	}
	u.statuses[id] = status
	return nil
}

func (u *unit) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	u.outbox = append(u.outbox, rec)
	return nil
}
