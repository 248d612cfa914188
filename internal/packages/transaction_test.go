package packages

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionLogAppendAndScan(t *testing.T) {
	log := NewTransactionLog(t.TempDir())

	tx := CreateTransaction(OpInstall, "widget", "1.0.0")
	require.NoError(t, log.Log(tx))

	tx.Status = TxCompleted
	now := time.Now().UTC()
	tx.CompletedAt = &now
	require.NoError(t, log.Log(tx))

	got, ok, err := log.GetTransaction(tx.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TxCompleted, got.Status, "GetTransaction reconstructs latest state by forward scan")
}

func TestTransactionLogIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	log := NewTransactionLog(dir)

	tx := CreateTransaction(OpRemove, "widget", "1.0.0")
	require.NoError(t, log.Log(tx))
	tx.Status = TxRolledBack
	require.NoError(t, log.Log(tx))

	all, err := log.ListTransactions(0)
	require.NoError(t, err)
	require.Len(t, all, 2, "both the pending and rolled_back revisions remain as separate entries")
	assert.Equal(t, TxRolledBack, all[0].Status, "ListTransactions returns most recent first")
	assert.Equal(t, TxPending, all[1].Status)
}

func TestTransactionLogListRespectsLimit(t *testing.T) {
	log := NewTransactionLog(t.TempDir())
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Log(CreateTransaction(OpInstall, "pkg", "1.0.0")))
	}
	recent, err := log.ListTransactions(2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestTransactionLogCompactKeepsLatestPerPackageAndHistory(t *testing.T) {
	dir := t.TempDir()
	log := NewTransactionLog(dir)

	require.NoError(t, log.Log(CreateTransaction(OpInstall, "a", "1.0.0")))
	require.NoError(t, log.Log(CreateTransaction(OpInstall, "b", "1.0.0")))
	latestA := CreateTransaction(OpUpdate, "a", "2.0.0")
	require.NoError(t, log.Log(latestA))

	require.NoError(t, log.Compact(1))

	all, err := log.ListTransactions(0)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, rec := range all {
		names[rec.PackageName] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
	assert.FileExists(t, filepath.Join(dir, "transactions.jsonl"))
}
