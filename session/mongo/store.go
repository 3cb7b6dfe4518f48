// Package mongo implements session.Store against MongoDB, grounded directly
// on the teacher's features/session/mongo store. The Store holds a
// go.mongodb.org/mongo-driver/v2 *mongo.Collection directly (Options takes
// a *mongo.Client), and its tests run against a disposable mongo:7
// container rather than a fake collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/thomasrohde/strandsflow/session"
)

const (
	defaultCollection = "strandsflow_sessions"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo session store.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	Collection      string
	Timeout         time.Duration
	AgentsStageRoot string
}

// Store implements session.Store against a MongoDB collection. Each
// document is the full serialized session.State, keyed by session_id.
type Store struct {
	coll      *mongodriver.Collection
	timeout   time.Duration
	stageRoot string
}

// New returns a Store backed by MongoDB, creating a unique index on
// session_id and an index on updated_at to support List ordering.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("session/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("session/mongo: database is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := coll.Indexes().CreateOne(ctxTimeout, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("session/mongo: create session_id index: %w", err)
	}
	if _, err := coll.Indexes().CreateOne(ctxTimeout, mongodriver.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("session/mongo: create updated_at index: %w", err)
	}

	stageRoot := opts.AgentsStageRoot
	if stageRoot == "" {
		stageRoot = "/tmp/strandsflow-agents"
	}
	return &Store{coll: coll, timeout: timeout, stageRoot: stageRoot}, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, state *session.State) error {
	if state.Metadata.SessionID == "" {
		return errors.New("session/mongo: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := toDoc(state)
	filter := bson.M{"session_id": state.Metadata.SessionID}
	update := bson.M{"$set": doc}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("session/mongo: save: %w", err)
	}
	return nil
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.State, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc stateDoc
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("session/mongo: load: %w", err)
	}
	return doc.toState(), nil
}

// Exists implements session.Store.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	count, err := s.coll.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return false, fmt.Errorf("session/mongo: exists: %w", err)
	}
	return count > 0, nil
}

// List implements session.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"session_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("session/mongo: list: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			SessionID string `bson:"session_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("session/mongo: decode: %w", err)
		}
		ids = append(ids, doc.SessionID)
	}
	return ids, cur.Err()
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("session/mongo: delete: %w", err)
	}
	return nil
}

// AgentsDir implements session.Store. Mongo has no filesystem root of its
// own, so agent conversation-persistence artifacts stage under a
// configured local directory keyed by session ID.
func (s *Store) AgentsDir(sessionID string) string {
	return filepath.Join(s.stageRoot, sessionID, "agents")
}

// Cleanup implements session.Store.
func (s *Store) Cleanup(ctx context.Context, olderThanSeconds int64) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	res, err := s.coll.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("session/mongo: cleanup: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
