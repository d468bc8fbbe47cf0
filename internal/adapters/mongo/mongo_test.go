package mongo_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/seat-inventory/internal/adapters/mongo"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	if err != nil {
		t.Fatal(err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("seats")
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	catalog := mongoadapter.NewCatalogRepository(setupDatabase(t), observability.NewLoggerWithOutput(io.Discard))

	ok, err := catalog.GameExists(ctx, 7)
	if err != nil || ok {
		t.Fatalf("expected no game yet, got %v %v", ok, err)
	}

	game := mongoadapter.GameDoc{ID: 7, Name: "Bears vs Lions", StartsAt: time.Now().Add(72 * time.Hour)}
	if err := catalog.CreateGame(ctx, game); err != nil {
		t.Fatal(err)
	}
	if err := catalog.CreateGame(ctx, game); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate, got %v", err)
	}

	ok, err = catalog.GameExists(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("expected game 7, got %v %v", ok, err)
	}
	fetched, err := catalog.GetGame(ctx, 7)
	if err != nil || fetched.Name != game.Name {
		t.Errorf("unexpected game %+v %v", fetched, err)
	}
	if _, err := catalog.GetGame(ctx, 8); !errors.Is(err, domain.ErrGameNotFound) {
		t.Errorf("expected ErrGameNotFound, got %v", err)
	}
}

func TestAuditLogger_HandleMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	audit := mongoadapter.NewAuditLogger(setupDatabase(t), observability.NewLoggerWithOutput(io.Discard))

	ev := domain.ReservationEvent{
		ReservationID: uuid.New(),
		BuyerID:       100,
		GameID:        7,
		SeatIDs:       []int64{1, 2},
		Status:        domain.ReservationReserved,
		OccurredAt:    time.Now(),
	}
	body, _ := json.Marshal(ev)
	key := domain.EventReservationCreated + ":" + ev.ReservationID.String()

	for i := 0; i < 2; i++ {
		if err := audit.HandleMessage(ctx, key, domain.EventReservationCreated, body); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	entry, err := audit.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry.BuyerID != 100 || entry.Action != domain.EventReservationCreated {
		t.Errorf("unexpected audit entry %+v", entry)
	}

	if err := audit.HandleMessage(ctx, "x", "seat.painted", body); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown type, got %v", err)
	}
}
