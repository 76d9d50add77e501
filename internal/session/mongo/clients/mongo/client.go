// Package mongo hosts the MongoDB client backing the durable session store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/durch/agneto/internal/session"
)

const (
	defaultRefsCollection = "agent_sessions"
	defaultOpTimeout      = 5 * time.Second
	clientName            = "session-mongo"
)

// Client exposes Mongo-backed operations for session ref metadata.
type Client interface {
	health.Pinger

	LoadRef(ctx context.Context, taskID string, role session.Role) (session.Ref, error)
	SaveRef(ctx context.Context, ref session.Ref) error
}

// Options configures the Mongo session client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	refs    collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultRefsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	refsColl := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: refsColl}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, refs: wrapper, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadRef(ctx context.Context, taskID string, role session.Role) (session.Ref, error) {
	if taskID == "" || role == "" {
		return session.Ref{}, errors.New("task id and role are required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"task_id": taskID, "role": string(role)}
	var doc refDocument
	if err := c.refs.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Ref{}, session.ErrNotFound
		}
		return session.Ref{}, err
	}
	return doc.toRef(), nil
}

func (c *client) SaveRef(ctx context.Context, ref session.Ref) error {
	if ref.TaskID == "" || ref.Role == "" {
		return errors.New("task id and role are required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"task_id": ref.TaskID, "role": string(ref.Role)}
	update := bson.M{"$set": bson.M{
		"task_id":        ref.TaskID,
		"role":           string(ref.Role),
		"session_id":     ref.SessionID,
		"is_initialized": ref.IsInitialized,
	}}
	_, err := c.refs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type refDocument struct {
	TaskID        string `bson:"task_id"`
	Role          string `bson:"role"`
	SessionID     string `bson:"session_id"`
	IsInitialized bool   `bson:"is_initialized"`
}

func (doc refDocument) toRef() session.Ref {
	return session.Ref{
		TaskID:        doc.TaskID,
		Role:          session.Role(doc.Role),
		SessionID:     doc.SessionID,
		IsInitialized: doc.IsInitialized,
	}
}

func ensureIndexes(ctx context.Context, refs collection) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}, {Key: "role", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := refs.Indexes().CreateOne(ctx, idx)
	return err
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error { return r.res.Decode(val) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
