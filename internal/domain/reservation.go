package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationCanceled ReservationStatus = "CANCELED"
)

type Reservation struct {
	ID        uuid.UUID
	BuyerID   int64
	GameID    int64
	SeatIDs   []int64
	Status    ReservationStatus
	CreatedAt time.Time
}

func NewReservation(buyerID, gameID int64, seatIDs []int64, now time.Time) Reservation {
	seats := make([]int64, len(seatIDs))
	copy(seats, seatIDs)
	return Reservation{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		GameID:    gameID,
		SeatIDs:   seats,
		Status:    ReservationReserved,
		CreatedAt: now,
	}
}
