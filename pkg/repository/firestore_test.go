package repository_test

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/repository"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	collection := fmt.Sprintf("strata_test_%d", time.Now().UnixNano())
	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID,
		repository.WithCollection(collection))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func randomTSID() model.TSID {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	return model.NewTSID(base.Add(time.Duration(rand.Intn(60*24*300)) * time.Minute))
}

func TestFirestoreBindAndResolve(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	tsid := randomTSID()
	gt.NoError(t, repo.Bind(ctx, tsid, "session-a"))

	sid, ok, err := repo.Resolve(ctx, tsid)
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.V(t, sid).Equal(model.SessionID("session-a"))

	gt.NoError(t, repo.Bind(ctx, tsid, "session-b"))
	sid, ok, err = repo.Resolve(ctx, tsid)
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.V(t, sid).Equal(model.SessionID("session-b"))

	all, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.V(t, all[tsid]).Equal(model.SessionID("session-b"))
}

func TestFirestoreResolveNotFound(t *testing.T) {
	repo := setupFirestore(t)

	_, ok, err := repo.Resolve(context.Background(), "190001010000")
	gt.NoError(t, err)
	gt.V(t, ok).Equal(false)
}
