package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Transition is one append-only audit record of a subscription change. It is
// written alongside the current-state update, never instead of it; the
// current-state write remains the source of truth for serving traffic.
type Transition struct {
	UserID  string       `bson:"user_id" json:"user_id"`
	EventID string       `bson:"event_id,omitempty" json:"event_id,omitempty"` // provider event, empty for user-initiated actions
	Action  string       `bson:"action" json:"action"`                         // checkout_confirmed, plan_changed, canceled, ...
	Before  Subscription `bson:"before" json:"before"`
	After   Subscription `bson:"after" json:"after"`
	At      time.Time    `bson:"at" json:"at"`
}

// TransitionLog records subscription transitions for later debugging of
// double-charges and reconciliation disputes.
type TransitionLog interface {
	Record(ctx context.Context, t Transition) error
}

const transitionsCollection = "subscription_transitions"

// MongoTransitionLog appends transitions to a capped-growth side collection
// keyed by user ID.
type MongoTransitionLog struct {
	col *mongo.Collection
}

func NewMongoTransitionLog(db *mongo.Database) *MongoTransitionLog {
	return &MongoTransitionLog{col: db.Collection(transitionsCollection)}
}

// EnsureIndexes creates the per-user lookup index. Call once at startup.
func (l *MongoTransitionLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create transition indexes: %w", err)
	}
	return nil
}

func (l *MongoTransitionLog) Record(ctx context.Context, t Transition) error {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	if _, err := l.col.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("append subscription transition: %w", err)
	}
	return nil
}

// ListByUser returns the most recent transitions for a user, newest first.
func (l *MongoTransitionLog) ListByUser(ctx context.Context, userID uuid.UUID, limit int64) ([]Transition, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := l.col.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("list subscription transitions: %w", err)
	}
	defer cur.Close(ctx)

	var out []Transition
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode subscription transitions: %w", err)
	}
	return out, nil
}

// recordTransition appends to the log and downgrades failures to a log line.
// Audit completeness must not gate billing-state correctness.
func recordTransition(ctx context.Context, log TransitionLog, logger *slog.Logger, t Transition) {
	if log == nil {
		return
	}
	if err := log.Record(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "failed to record subscription transition",
			slog.String("user_id", t.UserID),
			slog.String("action", t.Action),
			slog.Any("error", err))
	}
}
