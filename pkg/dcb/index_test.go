package dcb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexManagerRecordAndLookup(t *testing.T) {
	m := newIndexManager(t.TempDir(), false, zerolog.Nop(), nil)

	require.NoError(t, m.record(1, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}))
	require.NoError(t, m.record(2, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "dev")}}))
	require.NoError(t, m.record(3, DomainEvent{EventType: "T2", Tags: []Tag{NewTag("env", "prod")}}))

	assert.Equal(t, []uint64{1, 2}, m.positionsForType("T1"))
	assert.Equal(t, []uint64{1, 3}, m.positionsForTag(NewTag("env", "prod")))
	assert.Nil(t, m.positionsForType("Unseen"))
}

func TestIndexManagerPositionsForItemCombinesTypeAndTag(t *testing.T) {
	m := newIndexManager(t.TempDir(), false, zerolog.Nop(), nil)
	require.NoError(t, m.record(1, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}))
	require.NoError(t, m.record(2, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "dev")}}))
	require.NoError(t, m.record(3, DomainEvent{EventType: "T2", Tags: []Tag{NewTag("env", "prod")}}))
	require.NoError(t, m.record(4, DomainEvent{EventType: "T2"}))

	got := m.positionsForItem(NewQueryItem([]string{"T1", "T2"}, []Tag{NewTag("env", "prod")}))
	assert.Equal(t, []uint64{1, 3}, got)

	assert.Nil(t, m.positionsForItem(QueryItem{}))
}

func TestIndexManagerMalformedFileSelfHeals(t *testing.T) {
	dir := t.TempDir()
	m := newIndexManager(dir, false, zerolog.Nop(), nil)

	typePath := m.typeIndexPath("T1")
	require.NoError(t, os.MkdirAll(filepath.Dir(typePath), 0o755))
	require.NoError(t, os.WriteFile(typePath, []byte("not json"), 0o644))

	assert.Nil(t, m.positionsForType("T1"))

	require.NoError(t, m.record(9, DomainEvent{EventType: "T1"}))
	assert.Equal(t, []uint64{9}, m.positionsForType("T1"))
}

func TestIndexManagerRecordIsIdempotentAndStaysSorted(t *testing.T) {
	m := newIndexManager(t.TempDir(), false, zerolog.Nop(), nil)

	require.NoError(t, m.record(5, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}))
	require.NoError(t, m.record(2, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}))
	// Re-recording position 5 (e.g. a retried append reassigning the same
	// position) must not duplicate it.
	require.NoError(t, m.record(5, DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}))

	assert.Equal(t, []uint64{2, 5}, m.positionsForType("T1"))
	assert.Equal(t, []uint64{2, 5}, m.positionsForTag(NewTag("env", "prod")))
}

func TestIndexManagerUnrecordRemovesFromTypeAndTagIndexes(t *testing.T) {
	m := newIndexManager(t.TempDir(), false, zerolog.Nop(), nil)
	ev := DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}

	require.NoError(t, m.record(1, ev))
	require.NoError(t, m.record(2, ev))

	m.unrecord(1, ev)

	assert.Equal(t, []uint64{2}, m.positionsForType("T1"))
	assert.Equal(t, []uint64{2}, m.positionsForTag(NewTag("env", "prod")))
}

func TestIntersectAndUnionSorted(t *testing.T) {
	assert.Equal(t, []uint64{2, 4}, intersectSorted([]uint64{1, 2, 3, 4}, []uint64{2, 4, 6}))
	assert.Equal(t, []uint64{1, 2, 3, 4, 6}, unionSorted([]uint64{1, 3}, []uint64{2, 3, 4}, []uint64{6}))
}
