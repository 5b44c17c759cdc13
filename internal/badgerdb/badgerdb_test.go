package badgerdb

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/logging"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Logger = logging.NewTestLogger().Logger

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("cursor/default"), []byte("2025-01-01T00:00:00Z"))
	}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got string
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("cursor/default"))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			got = string(v)
			return nil
		})
	}))
	assert.Equal(t, "2025-01-01T00:00:00Z", got)
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()
	assert.False(t, db.IsClosed())
}
