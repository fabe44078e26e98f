package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	keys, err := s.List(ctx, "stock-data", "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Put(ctx, "stock-data", "AAPL/daily/b.csv", []byte("one"), "text/csv"))
	require.NoError(t, s.Put(ctx, "stock-data", "AAPL/daily/a.csv", []byte("two"), "text/csv"))
	require.NoError(t, s.Put(ctx, "stock-data", "MSFT/daily/a.csv", []byte("three"), "text/csv"))
	require.NoError(t, s.Put(ctx, "stock-data", "AAPL/daily/b.csv", []byte("four"), "text/csv"))

	data, err := s.Get(ctx, "stock-data", "AAPL/daily/b.csv")
	require.NoError(t, err)
	assert.Equal(t, "four", string(data))

	keys, err = s.List(ctx, "stock-data", "AAPL/")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL/daily/a.csv", "AAPL/daily/b.csv"}, keys)

	_, err = s.Get(ctx, "stock-data", "nope.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	exercise(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	require.NoError(t, s.Put(context.Background(), "b", "../../x.csv", []byte("x"), ""))
	keys, err := s.List(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.csv"}, keys)

	assert.Error(t, s.Put(context.Background(), "b", "", nil, ""))
}

func TestNewMinioStore(t *testing.T) {
	s, err := NewMinioStore(MinioOptions{Endpoint: "localhost:9000", AccessKey: "minioadmin", SecretKey: "minioadmin"})
	require.NoError(t, err)
	assert.NotNil(t, s.client)
	assert.Empty(t, s.ready)
}
