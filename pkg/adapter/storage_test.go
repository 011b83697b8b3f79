package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/adapter"
)

func TestStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewStorage(ctx, bucket)
	gt.NoError(t, err)

	key := "strata-test/" + uuid.NewString() + "/timeline.md"
	w, err := client.Put(ctx, key)
	gt.NoError(t, err)
	_, err = io.WriteString(w, "- 202602260705 | hello\n")
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := client.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.V(t, string(data)).Equal("- 202602260705 | hello\n")

	t.Run("missing object", func(t *testing.T) {
		_, err := client.Get(ctx, "strata-test/"+uuid.NewString())
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
	})
}
