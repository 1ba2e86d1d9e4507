package dcb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerEmptyStoreStartsAtZero(t *testing.T) {
	l := newLedger(t.TempDir(), false, zerolog.Nop(), nil)
	assert.Equal(t, uint64(0), l.lastPosition())
	assert.Equal(t, uint64(1), l.nextPosition())
}

func TestLedgerUpdateAndReload(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(dir, false, zerolog.Nop(), nil)

	require.NoError(t, l.updatePosition(5, 5))
	assert.Equal(t, uint64(5), l.lastPosition())
	assert.Equal(t, uint64(6), l.nextPosition())
	assert.Equal(t, uint64(5), l.eventCount())

	reloaded := newLedger(dir, false, zerolog.Nop(), nil)
	assert.Equal(t, uint64(5), reloaded.lastPosition())
}

func TestLedgerMalformedFileTreatedAsZero(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ledgerFileName), []byte("{not json"), 0o644))

	l := newLedger(dir, false, zerolog.Nop(), nil)
	assert.Equal(t, uint64(0), l.lastPosition())
}

func TestLedgerNoTempFilesLeftBehindOnSuccess(t *testing.T) {
	dir := t.TempDir()
	l := newLedger(dir, false, zerolog.Nop(), nil)
	require.NoError(t, l.updatePosition(1, 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ledgerFileName, e.Name())
	}
}
