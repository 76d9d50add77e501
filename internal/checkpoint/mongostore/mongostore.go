// Package mongostore implements checkpoint.Store on top of MongoDB for
// managed deployments that need checkpoints to survive beyond a single CLI
// process's working directory, mirroring the durability tradeoff
// session/mongo makes for session refs.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/durch/agneto/internal/checkpoint"
)

const (
	defaultCheckpointsCollection = "checkpoints"
	defaultCounterCollection     = "checkpoint_counters"
	defaultOpTimeout             = 5 * time.Second
	clientName                   = "checkpoint-mongo"
)

// Options configures the Mongo checkpoint store.
type Options struct {
	Client               *mongodriver.Client
	Database             string
	CheckpointCollection string
	CounterCollection    string
	Timeout              time.Duration
}

// Store is a checkpoint.Store backed by MongoDB. Sequence numbers are
// allocated from a per-task counter document via an atomic $inc, so
// concurrent writers never collide on Number the way a single-process
// mutex (as filestore uses) could not guarantee across replicas.
type Store struct {
	checkpoints *mongodriver.Collection
	counters    *mongodriver.Collection
	mongo       *mongodriver.Client
	timeout     time.Duration
}

var _ checkpoint.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New returns a Store backed by the given Mongo client, ensuring the
// (task_id, number) uniqueness index exists before returning.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	cpColl := opts.CheckpointCollection
	if cpColl == "" {
		cpColl = defaultCheckpointsCollection
	}
	counterColl := opts.CounterCollection
	if counterColl == "" {
		counterColl = defaultCounterCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &Store{
		checkpoints: db.Collection(cpColl),
		counters:    db.Collection(counterColl),
		mongo:       opts.Client,
		timeout:     timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// checkpointDocument stores the checkpoint as an opaque JSON payload rather
// than a native BSON mapping: checkpoint.Checkpoint is versioned and
// restore.go already knows how to decode its JSON shape, so the document
// format stays identical to what filestore writes to disk.
type checkpointDocument struct {
	TaskID  string `bson:"task_id"`
	Number  int    `bson:"number"`
	Trigger string `bson:"trigger"`
	Payload []byte `bson:"payload"`
}

// Write implements checkpoint.Store.
func (s *Store) Write(ctx context.Context, taskID string, cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	number, err := s.nextNumber(ctx, taskID)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: allocating checkpoint number: %w", err)
	}
	cp.Number = number

	payload, err := json.Marshal(cp)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: marshaling checkpoint: %w", err)
	}
	doc := checkpointDocument{TaskID: taskID, Number: cp.Number, Trigger: string(cp.Trigger), Payload: payload}
	if _, err := s.checkpoints.InsertOne(ctx, doc); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: inserting checkpoint: %w", err)
	}
	return cp, nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context, taskID string) (checkpoint.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "number", Value: -1}})
	var doc checkpointDocument
	if err := s.checkpoints.FindOne(ctx, bson.M{"task_id": taskID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: no checkpoints written for task %q", taskID)
		}
		return checkpoint.Checkpoint{}, err
	}
	return decodeCheckpoint(doc)
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context, taskID string) ([]checkpoint.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "number", Value: 1}})
	cur, err := s.checkpoints.Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: listing checkpoints: %w", err)
	}
	defer cur.Close(ctx)

	var out []checkpoint.Checkpoint
	for cur.Next(ctx) {
		var doc checkpointDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decoding checkpoint: %w", err)
		}
		cp, err := decodeCheckpoint(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, cur.Err()
}

func decodeCheckpoint(doc checkpointDocument) (checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(doc.Payload, &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("mongostore: decoding checkpoint payload: %w", err)
	}
	return cp, nil
}

func (s *Store) nextNumber(ctx context.Context, taskID string) (int, error) {
	filter := bson.M{"_id": taskID}
	update := bson.M{"$inc": bson.M{"seq": 1}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc struct {
		Seq int `bson:"seq"`
	}
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}, {Key: "number", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.checkpoints.Indexes().CreateOne(ctx, idx)
	return err
}
