package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository is a read view over the games collection maintained by
// the catalog service.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("games"),
		logger: logger,
	}
}

type GameDoc struct {
	ID        int64      `bson:"_id"`
	Name      string     `bson:"name"`
	Venue     string     `bson:"venue"`
	StartsAt  time.Time  `bson:"starts_at"`
	Grades    []GradeDoc `bson:"grades"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

type GradeDoc struct {
	ID    int64  `bson:"id"`
	Name  string `bson:"name"`
	Price int64  `bson:"price"`
}

func (c *CatalogRepository) GameExists(ctx context.Context, gameID int64) (bool, error) {
	n, err := c.coll.CountDocuments(ctx, bson.M{"_id": gameID})
	if err != nil {
		c.logger.WithError(err).WithField("game_id", gameID).Error("failed to look up game")
		return false, errors.Wrap(err, "count games")
	}
	return n > 0, nil
}

func (c *CatalogRepository) GetGame(ctx context.Context, gameID int64) (*GameDoc, error) {
	var game GameDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": gameID}).Decode(&game)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrGameNotFound, "game %d", gameID)
	}
	if err != nil {
		c.logger.WithError(err).WithField("game_id", gameID).Error("failed to get game")
		return nil, errors.Wrap(err, "find game")
	}
	return &game, nil
}

func (c *CatalogRepository) CreateGame(ctx context.Context, game GameDoc) error {
	game.CreatedAt = time.Now()
	game.UpdatedAt = game.CreatedAt
	_, err := c.coll.InsertOne(ctx, game)
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(domain.ErrConflict, "game %d exists", game.ID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to create game")
		return errors.Wrap(err, "insert game")
	}
	return nil
}
