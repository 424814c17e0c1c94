package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("upc,title\n")
	uri, err := store.PutObject(context.Background(), "exports/books.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/books.csv", uri)

	payload[0] = 'U'
	stored, contentType, ok := store.Object("exports/books.csv")
	require.True(t, ok)
	require.Equal(t, "upc,title\n", string(stored))
	require.Equal(t, "text/csv", contentType)
	require.Equal(t, []string{"exports/books.csv"}, store.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "text/csv", bytes.NewReader(nil))
	require.Error(t, err)

	_, _, ok := NewBlobStore().Object("missing")
	require.False(t, ok)
}
