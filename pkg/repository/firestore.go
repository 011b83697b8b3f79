package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "tsid_sessions"

// Firestore stores one document per tsid, so concurrent writers never rewrite
// each other's bindings. Set on the same tsid keeps last-write-wins semantics.
type Firestore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ SessionMap = (*Firestore)(nil)

// FirestoreOption is a functional option for Firestore
type FirestoreOption func(*Firestore)

// WithCollection sets the collection name. Use a collection per agent when
// several agents share one database.
func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

type sessionBinding struct {
	SessionID string    `firestore:"session_id"`
	BoundAt   time.Time `firestore:"bound_at"`
}

// NewFirestore creates a Firestore backed SessionMap
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: defaultCollection,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close releases the underlying client
func (x *Firestore) Close() error {
	return x.client.Close()
}

func (x *Firestore) Resolve(ctx context.Context, tsid model.TSID) (model.SessionID, bool, error) {
	snap, err := x.client.Collection(x.collection).Doc(tsid.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to get binding", goerr.V("tsid", tsid))
	}

	var b sessionBinding
	if err := snap.DataTo(&b); err != nil {
		return "", false, goerr.Wrap(err, "failed to decode binding", goerr.V("tsid", tsid))
	}
	return model.SessionID(b.SessionID), true, nil
}

func (x *Firestore) Bind(ctx context.Context, tsid model.TSID, sessionID model.SessionID) error {
	if !tsid.Valid() {
		return goerr.Wrap(model.ErrInvalidTSID, "failed to bind session", goerr.V("tsid", tsid))
	}

	b := sessionBinding{
		SessionID: sessionID.String(),
		BoundAt:   x.now(),
	}
	if _, err := x.client.Collection(x.collection).Doc(tsid.String()).Set(ctx, b); err != nil {
		return goerr.Wrap(err, "failed to set binding",
			goerr.V("tsid", tsid),
			goerr.V("session_id", sessionID))
	}
	return nil
}

func (x *Firestore) Load(ctx context.Context) (map[model.TSID]model.SessionID, error) {
	iter := x.client.Collection(x.collection).Documents(ctx)
	defer iter.Stop()

	result := map[model.TSID]model.SessionID{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate bindings")
		}

		var b sessionBinding
		if err := snap.DataTo(&b); err != nil {
			return nil, goerr.Wrap(err, "failed to decode binding", goerr.V("id", snap.Ref.ID))
		}
		result[model.TSID(snap.Ref.ID)] = model.SessionID(b.SessionID)
	}

	return result, nil
}
