package data

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MediaRemover deletes stored objects by key. Deleting a missing key is not
// an error.
type MediaRemover interface {
	Delete(ctx context.Context, key string) error
}

// ServersStore provides server DB operations.
type ServersStore struct {
	coll  *mongo.Collection
	ids   sequence
	media MediaRemover
}

// NewServersStore returns a ServersStore. media receives icon and banner
// deletions when a server is removed.
func NewServersStore(servers, counters *mongo.Collection, media MediaRemover) *ServersStore {
	return &ServersStore{
		coll:  servers,
		ids:   sequence{coll: counters, name: "servers"},
		media: media,
	}
}

// CreateServer inserts srv, assigning its id. Category names are stored
// lower-case.
func (s *ServersStore) CreateServer(ctx context.Context, srv *Server) (*Server, error) {
	id, err := s.ids.next(ctx)
	if err != nil {
		return nil, err
	}
	srv.ID = id
	srv.Category = strings.ToLower(strings.TrimSpace(srv.Category))
	if srv.MemberIDs == nil {
		srv.MemberIDs = []int64{}
	}
	if srv.Channels == nil {
		srv.Channels = []Channel{}
	}

	if _, err := s.coll.InsertOne(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// GetServer finds a server by id.
func (s *ServersStore) GetServer(ctx context.Context, id int64) (*Server, error) {
	var srv Server
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&srv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrServerNotFound
		}
		return nil, err
	}
	return &srv, nil
}

// ListServers returns servers matching f ordered by id. Filtering by a server
// id that does not exist fails with ErrServerNotFound.
func (s *ServersStore) ListServers(ctx context.Context, f ServerFilter) ([]*Server, error) {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = strings.ToLower(f.Category)
	}
	if f.MemberID != 0 {
		filter["member_ids"] = f.MemberID
	}
	if f.ServerID != 0 {
		filter["_id"] = f.ServerID
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	servers := []*Server{}
	if err := cursor.All(ctx, &servers); err != nil {
		return nil, err
	}

	if f.ServerID != 0 && len(servers) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrServerNotFound, f.ServerID)
	}

	if f.WithNumMembers {
		for _, srv := range servers {
			n := len(srv.MemberIDs)
			srv.NumMembers = &n
		}
	}
	return servers, nil
}

// DeleteServer removes a server's icon and banner from media storage, then
// the record itself. If a media delete fails the record is kept so the
// operation can be retried.
func (s *ServersStore) DeleteServer(ctx context.Context, id int64) error {
	srv, err := s.GetServer(ctx, id)
	if err != nil {
		return err
	}

	for _, key := range []string{srv.IconKey, srv.BannerKey} {
		if key == "" || s.media == nil {
			continue
		}
		if err := s.media.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete media %q: %w", key, err)
		}
	}

	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}
