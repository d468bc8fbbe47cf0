package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	BuyerID   int64     `bson:"buyer_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// LogEvent stores one audit entry keyed by id. Writing the same id twice
// keeps the first entry, so redelivered messages are harmless.
func (a *AuditLogger) LogEvent(ctx context.Context, id, action string, buyerID int64, data map[string]interface{}) error {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := a.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{
			"action":    action,
			"buyer_id":  buyerID,
			"timestamp": time.Now(),
			"data":      bson.M(data),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) Get(ctx context.Context, id string) (*AuditLog, error) {
	var log AuditLog
	err := a.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&log)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "audit log %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "find audit log")
	}
	return &log, nil
}

func (a *AuditLogger) LogReservationEvent(ctx context.Context, dedupeKey, eventType string, ev domain.ReservationEvent) error {
	data := map[string]interface{}{
		"reservation_id": ev.ReservationID.String(),
		"game_id":        ev.GameID,
		"seat_ids":       ev.SeatIDs,
		"status":         string(ev.Status),
		"occurred_at":    ev.OccurredAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, dedupeKey, eventType, ev.BuyerID, data)
}

func (a *AuditLogger) LogHoldExpired(ctx context.Context, dedupeKey string, ev domain.HoldExpiredEvent) error {
	data := map[string]interface{}{
		"seat_id":    ev.SeatID,
		"game_id":    ev.GameID,
		"version":    ev.Version,
		"expired_at": ev.ExpiredAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, dedupeKey, domain.EventHoldExpired, ev.BuyerID, data)
}

// HandleMessage decodes an event published on the seats exchange and
// records it.
func (a *AuditLogger) HandleMessage(ctx context.Context, messageID, eventType string, body []byte) error {
	switch eventType {
	case domain.EventReservationCreated, domain.EventReservationCanceled:
		var ev domain.ReservationEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Wrapf(domain.ErrInvalidInput, "decode %s: %v", eventType, err)
		}
		return a.LogReservationEvent(ctx, messageID, eventType, ev)
	case domain.EventHoldExpired:
		var ev domain.HoldExpiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Wrapf(domain.ErrInvalidInput, "decode %s: %v", eventType, err)
		}
		return a.LogHoldExpired(ctx, messageID, ev)
	}
	return errors.Wrapf(domain.ErrInvalidInput, "unknown event type %q", eventType)
}
