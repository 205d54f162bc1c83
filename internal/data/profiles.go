// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ProfilesStore performs profile DB operations.
type ProfilesStore struct {
	coll     *mongo.Collection // "profiles"
	messages *mongo.Collection // "messages", for sender cleanup on delete
	ids      sequence
}

// NewProfilesStore returns a ProfilesStore. counters holds the id sequence.
func NewProfilesStore(profiles, messages, counters *mongo.Collection) *ProfilesStore {
	return &ProfilesStore{
		coll:     profiles,
		messages: messages,
		ids:      sequence{coll: counters, name: "profiles"},
	}
}

// CreateProfile inserts a new profile. A second profile with the same email
// fails with ErrDuplicateEmail (enforced by the unique index).
func (s *ProfilesStore) CreateProfile(ctx context.Context, in NewProfile) (*Profile, error) {
	email := normalize.Email(in.Email)
	if email == "" {
		return nil, errors.New("profile email is required")
	}

	id, err := s.ids.next(ctx)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		ID:        id,
		Email:     email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.coll.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		return nil, err
	}
	return p, nil
}

// GetProfileByID finds a profile by id.
func (s *ProfilesStore) GetProfileByID(ctx context.Context, id int64) (*Profile, error) {
	var p Profile
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProfileByEmail finds a profile by (normalized) email.
func (s *ProfilesStore) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	var p Profile
	err := s.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DisplayNames returns id -> display name for the given profile ids. Missing
// ids are absent from the result.
func (s *ProfilesStore) DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	cursor, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var profiles []*Profile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, err
	}
	for _, p := range profiles {
		names[p.ID] = p.DisplayName()
	}
	return names, nil
}

// DeleteProfile removes a profile. Messages it sent are kept with their
// sender cleared; that update runs first so a failure leaves the profile in
// place rather than leaving dangling sender ids.
func (s *ProfilesStore) DeleteProfile(ctx context.Context, id int64) error {
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"sender_id": id},
		bson.M{"$set": bson.M{"sender_id": nil}},
	)
	if err != nil {
		return fmt.Errorf("clear message senders: %w", err)
	}

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrProfileNotFound
	}
	return nil
}
