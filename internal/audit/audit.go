// Package audit appends session-lifecycle and seek-classification events to
// MongoDB for operational dashboards. It is write-only from this module's
// point of view: nothing here is ever read back to reconstruct ringbuf
// state, so losing the audit collection never changes filter behavior.
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EventKind names the lifecycle/seek events recorded.
type EventKind string

const (
	EventOpened      EventKind = "opened"
	EventClosed      EventKind = "closed"
	EventSeekShort   EventKind = "seek_short"
	EventSeekMiddle  EventKind = "seek_middle"
	EventSeekLong    EventKind = "seek_long"
	EventSourceError EventKind = "source_error"
	EventEOSReached  EventKind = "eos_reached"
)

// Event is one append-only audit record.
type Event struct {
	SessionID string    `bson:"sessionId"`
	Kind      EventKind `bson:"kind"`
	Offset    int64     `bson:"offset,omitempty"`
	Detail    string    `bson:"detail,omitempty"`
	Timestamp int64     `bson:"timestamp"`
}

// Log wraps a single Mongo collection used only for inserts.
type Log struct {
	collection *mongo.Collection
}

// NewLog wraps an existing collection handle.
func NewLog(client *mongo.Client, dbName, collectionName string) *Log {
	return &Log{collection: client.Database(dbName).Collection(collectionName)}
}

// Connect dials Mongo the same way the rest of this codebase does,
// accepting extra client options (e.g. an otelmongo monitor) for
// instrumentation.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// EnsureIndexes creates the indexes this log's queries rely on for
// dashboards (by session, by kind, by time).
func (l *Log) EnsureIndexes(ctx context.Context) error {
	if l == nil || l.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sessionId", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	}
	_, err := l.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Record appends one event. A nil *Log is a valid no-op receiver so callers
// can wire audit logging optionally without branching at every call site.
func (l *Log) Record(ctx context.Context, ev Event) error {
	if l == nil || l.collection == nil {
		return nil
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UTC().Unix()
	}
	_, err := l.collection.InsertOne(ctx, ev)
	return err
}
