package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const usersCollection = "users"

// subscriptionDoc is the stored shape of the subscription block.
type subscriptionDoc struct {
	CustomerID     string     `bson:"customer_id"`
	SubscriptionID string     `bson:"subscription_id"`
	SessionID      string     `bson:"session_id"`
	PlanID         string     `bson:"plan_id"`
	PlanType       string     `bson:"plan_type"`
	PlanStartDate  *time.Time `bson:"plan_start_date"`
	PlanEndDate    *time.Time `bson:"plan_end_date"`
	PlanDuration   int        `bson:"plan_duration"`
}

// userDoc is the stored shape of a user record. The UUID is kept as its
// string form so the collection stays readable and index-friendly.
type userDoc struct {
	ID           string          `bson:"_id"`
	Name         string          `bson:"name"`
	Email        string          `bson:"email"`
	Phone        string          `bson:"phone"`
	PasswordHash string          `bson:"password_hash"`
	IsDeleted    bool            `bson:"is_deleted"`
	IsSubscribed bool            `bson:"is_subscribed"`
	Subscription subscriptionDoc `bson:"subscription"`
	CreatedAt    time.Time       `bson:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at"`
}

func toUserDoc(u *User) userDoc {
	return userDoc{
		ID:           u.ID.String(),
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
		IsDeleted:    u.IsDeleted,
		IsSubscribed: u.IsSubscribed,
		Subscription: subscriptionDoc(u.Subscription),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDoc) toUser() (*User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("malformed user ID %q: %w", d.ID, err)
	}
	return &User{
		ID:           id,
		Name:         d.Name,
		Email:        d.Email,
		Phone:        d.Phone,
		PasswordHash: d.PasswordHash,
		IsDeleted:    d.IsDeleted,
		IsSubscribed: d.IsSubscribed,
		Subscription: Subscription(d.Subscription),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

// MongoUserStore implements UserStore on a MongoDB collection. All
// subscription mutations go through single $set writes so a concurrent reader
// never observes a half-applied field set.
type MongoUserStore struct {
	users *mongo.Collection
}

// NewMongoUserStore creates a store bound to the given database.
func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{users: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
// Call once at startup.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "subscription.session_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoUserStore) CreateUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoUserStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.findOne(ctx, bson.M{"_id": id.String()})
}

func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoUserStore) FindBySessionID(ctx context.Context, sessionID string) (*User, error) {
	if sessionID == "" {
		return nil, ErrUserNotFound
	}
	return s.findOne(ctx, bson.M{"subscription.session_id": sessionID})
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toUser()
}

// ClaimCustomerID records the customer ID only when none is set yet. The
// filtered update makes the claim a compare-and-set: the loser of a race
// reads back the winner's value instead of overwriting it.
func (s *MongoUserStore) ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	filter := bson.M{"_id": userID.String(), "subscription.customer_id": ""}
	update := bson.M{"$set": bson.M{
		"subscription.customer_id": customerID,
		"updated_at":               time.Now().UTC(),
	}}

	err := s.users.FindOneAndUpdate(ctx, filter, update).Err()
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("claim customer ID: %w", err)
	}

	// Either the user is missing or another writer already claimed a
	// customer; re-read to find out which.
	user, ferr := s.FindByID(ctx, userID)
	if ferr != nil {
		return "", ferr
	}
	if user.Subscription.CustomerID == "" {
		return "", fmt.Errorf("claim customer ID: %w", err)
	}
	return user.Subscription.CustomerID, nil
}

func (s *MongoUserStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, fields SubscriptionFields) (*User, error) {
	return s.applyFields(ctx, bson.M{"_id": userID.String()}, fields)
}

func (s *MongoUserStore) applyFields(ctx context.Context, filter bson.M, fields SubscriptionFields) (*User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}

	if fields.CustomerID != nil {
		set["subscription.customer_id"] = *fields.CustomerID
	}
	if fields.SubscriptionID != nil {
		set["subscription.subscription_id"] = *fields.SubscriptionID
	}
	if fields.SessionID != nil {
		set["subscription.session_id"] = *fields.SessionID
	}
	if fields.PlanID != nil {
		set["subscription.plan_id"] = *fields.PlanID
	}
	if fields.PlanType != nil {
		set["subscription.plan_type"] = *fields.PlanType
	}
	if fields.PlanStartDate != nil {
		set["subscription.plan_start_date"] = timeOrNil(*fields.PlanStartDate)
	}
	if fields.PlanEndDate != nil {
		set["subscription.plan_end_date"] = timeOrNil(*fields.PlanEndDate)
	}
	if fields.PlanDuration != nil {
		set["subscription.plan_duration"] = *fields.PlanDuration
	}
	if fields.IsSubscribed != nil {
		set["is_subscribed"] = *fields.IsSubscribed
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update subscription fields: %w", err)
	}
	return doc.toUser()
}

// timeOrNil maps the zero time to a stored null.
func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
