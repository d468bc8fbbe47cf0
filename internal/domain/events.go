package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventReservationCreated  = "reservation.created"
	EventReservationCanceled = "reservation.canceled"
	EventHoldExpired         = "hold.expired"

	OutboxStatusNew       = "NEW"
	OutboxStatusPublished = "PUBLISHED"
)

// ReservationEvent is the payload of reservation.* events.
type ReservationEvent struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	BuyerID       int64             `json:"buyer_id"`
	GameID        int64             `json:"game_id"`
	SeatIDs       []int64           `json:"seat_ids"`
	Status        ReservationStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type HoldExpiredEvent struct {
	SeatID    int64     `json:"seat_id"`
	GameID    int64     `json:"game_id"`
	BuyerID   int64     `json:"buyer_id"`
	Version   int64     `json:"version"`
	ExpiredAt time.Time `json:"expired_at"`
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

// NewReservationOutbox builds the outbox record announcing a reservation
// state change of type eventType.
func NewReservationOutbox(r Reservation, eventType string, now time.Time) (OutboxRecord, error) {
	payload, err := json.Marshal(ReservationEvent{
		ReservationID: r.ID,
		BuyerID:       r.BuyerID,
		GameID:        r.GameID,
		SeatIDs:       r.SeatIDs,
		Status:        r.Status,
		OccurredAt:    now,
	})
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "reservation",
		AggregateID:   r.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        OutboxStatusNew,
		DedupeKey:     eventType + ":" + r.ID.String(),
	}, nil
}
