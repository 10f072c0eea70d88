// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user profile DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new profile. CreatedAt and LastOnline default to now.
func (u *UsersStore) CreateUser(ctx context.Context, user *UserProfile) (*UserProfile, error) {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.LastOnline.IsZero() {
		user.LastOnline = now
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("user: %w", ErrDuplicate)
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*UserProfile, error) {
	var user UserProfile
	err := u.coll.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail finds a user by normalized email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*UserProfile, error) {
	return u.findOne(ctx, bson.M{"email": email})
}

// GetUserByID finds a user by the hex form of its id.
func (u *UsersStore) GetUserByID(ctx context.Context, uid string) (*UserProfile, error) {
	id, err := bson.ObjectIDFromHex(uid)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", uid, ErrNotFound)
	}
	return u.findOne(ctx, bson.M{"_id": id})
}

// GetUserByProvider finds a user created through a federated provider.
func (u *UsersStore) GetUserByProvider(ctx context.Context, provider, subject string) (*UserProfile, error) {
	return u.findOne(ctx, bson.M{"provider": provider, "provider_subject": subject})
}

// UserExists checks if a user exists by id.
func (u *UsersStore) UserExists(ctx context.Context, uid string) (bool, error) {
	id, err := bson.ObjectIDFromHex(uid)
	if err != nil {
		return false, nil
	}
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetPresence writes the online flag and last-online time of a user.
// Concurrent writers resolve by last write wins.
func (u *UsersStore) SetPresence(ctx context.Context, uid string, online bool, at time.Time) error {
	id, err := bson.ObjectIDFromHex(uid)
	if err != nil {
		return fmt.Errorf("user %q: %w", uid, ErrNotFound)
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"online": online, "last_online": at},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %q: %w", uid, ErrNotFound)
	}
	return nil
}

// ListExcept returns every profile except uid, ordered by display name.
func (u *UsersStore) ListExcept(ctx context.Context, uid string) ([]*UserProfile, error) {
	filter := bson.M{}
	if id, err := bson.ObjectIDFromHex(uid); err == nil {
		filter["_id"] = bson.M{"$ne": id}
	}

	opts := options.Find().SetSort(bson.D{{Key: "display_name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*UserProfile{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Watch opens a change stream over the users collection.
func (u *UsersStore) Watch(ctx context.Context) (*mongo.ChangeStream, error) {
	return u.coll.Watch(ctx, mongo.Pipeline{})
}
