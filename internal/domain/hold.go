package domain

import "time"

// HoldToken identifies one hold on one seat. Version is the seat version the
// hold write produced; the hold is still live only while the seat carries it.
type HoldToken struct {
	SeatID     int64     `json:"seat_id"`
	GameID     int64     `json:"game_id"`
	BuyerID    int64     `json:"buyer_id"`
	Version    int64     `json:"version"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewHoldToken(seat Seat) HoldToken {
	return HoldToken{
		SeatID:     seat.ID,
		GameID:     seat.GameID,
		BuyerID:    seat.HoldBuyerID,
		Version:    seat.Version,
		AcquiredAt: seat.HeldAt,
		ExpiresAt:  seat.HoldExpiresAt,
	}
}

func (t HoldToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Matches reports whether seat is still HELD by exactly this hold.
func (t HoldToken) Matches(seat Seat) bool {
	return seat.ID == t.SeatID && seat.Status == SeatHeld && seat.Version == t.Version && seat.HoldBuyerID == t.BuyerID
}
