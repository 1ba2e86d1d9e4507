package dcb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	typeIndexDirName = "by_type"
	tagIndexDirName  = "by_tag"
)

// indexFile is the on-disk shape of one by-type or by-tag index: the
// sorted, de-duplicated list of positions carrying that type or tag
// (spec §4.4).
type indexFile struct {
	Positions []uint64 `json:"positions"`
}

// indexManager maintains the by-event-type and by-tag secondary indexes
// used to resolve queries without scanning every event file. Each
// distinct index file is guarded by its own mutex so concurrent appends
// touching disjoint indexes don't serialize behind one another; appends
// to the very same index file still serialize, which is correct since
// they read-modify-write the same slice.
type indexManager struct {
	storePath string
	durable   bool
	log       zerolog.Logger

	mu           sync.Mutex // guards locks map itself
	locks        map[string]*sync.Mutex
	corruptCount uint64
	metrics      *Metrics
}

func newIndexManager(storePath string, durable bool, log zerolog.Logger, metrics *Metrics) *indexManager {
	return &indexManager{
		storePath: storePath,
		durable:   durable,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
		metrics:   metrics,
	}
}

func (m *indexManager) lockFor(path string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	return l
}

func (m *indexManager) typeIndexPath(eventType string) string {
	return filepath.Join(m.storePath, typeIndexDirName, safeEventTypeFileName(eventType)+".json")
}

func (m *indexManager) tagIndexPath(t Tag) string {
	return filepath.Join(m.storePath, tagIndexDirName, safeTagFileName(t)+".json")
}

// record appends position to every by-type and by-tag index implicated by
// ev, creating index files and directories as needed. record is atomic
// with respect to itself: if any of ev's index files fails to accept the
// position, every index file already updated by this call is rolled back
// before the error returns, so a caller-level retry (Append's own
// rollback, or a future attempt reassigning the same position) never
// finds a partially-recorded position.
func (m *indexManager) record(position uint64, ev DomainEvent) error {
	done := make([]string, 0, 1+len(ev.Tags))
	rollback := func() {
		for _, path := range done {
			_ = m.removePosition(path, position)
		}
	}

	typePath := m.typeIndexPath(ev.EventType)
	if err := m.appendPosition(typePath, position); err != nil {
		rollback()
		return err
	}
	done = append(done, typePath)

	for _, t := range ev.Tags {
		tagPath := m.tagIndexPath(t)
		if err := m.appendPosition(tagPath, position); err != nil {
			rollback()
			return err
		}
		done = append(done, tagPath)
	}
	return nil
}

// appendPosition is a read-modify-write: load the existing index (or
// start empty), insert position if absent, and re-serialize in sorted
// order (spec §4.4) — insertion is idempotent so a retried Append that
// reassigns the same position never duplicates an entry.
func (m *indexManager) appendPosition(path string, position uint64) error {
	lock := m.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	idx, _ := m.readIndexLocked(path)
	for _, p := range idx.Positions {
		if p == position {
			return nil
		}
	}
	idx.Positions = append(idx.Positions, position)
	sort.Slice(idx.Positions, func(i, j int) bool { return idx.Positions[i] < idx.Positions[j] })
	return m.writeIndexLocked(path, idx)
}

// removePosition is the inverse of appendPosition: it drops position from
// the index at path if present, used to roll back index entries recorded
// for a batch that later failed to commit (spec §7 "best-effort cleanup
// ... before the ledger advance").
func (m *indexManager) removePosition(path string, position uint64) error {
	lock := m.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	idx, ok := m.readIndexLocked(path)
	if !ok {
		return nil
	}
	out := idx.Positions[:0:0]
	for _, p := range idx.Positions {
		if p != position {
			out = append(out, p)
		}
	}
	if len(out) == len(idx.Positions) {
		return nil
	}
	idx.Positions = out
	return m.writeIndexLocked(path, idx)
}

// unrecord removes position from every by-type and by-tag index ev
// touched, mirroring record. Best-effort: it continues past individual
// failures so rollback removes as much as it can rather than stopping at
// the first unreachable index file.
func (m *indexManager) unrecord(position uint64, ev DomainEvent) {
	_ = m.removePosition(m.typeIndexPath(ev.EventType), position)
	for _, t := range ev.Tags {
		_ = m.removePosition(m.tagIndexPath(t), position)
	}
}

// readIndexLocked loads an index file. A missing file is an empty index;
// a malformed file is treated as empty and logged, self-healing on the
// next write (spec §9, "self-healing on corruption").
func (m *indexManager) readIndexLocked(path string) (indexFile, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return indexFile{}, false
	}
	var idx indexFile
	if err := json.Unmarshal(raw, &idx); err != nil {
		m.corruptCount++
		m.log.Warn().Err(err).Str("path", path).Msg("index file malformed, rebuilding from empty")
		m.metrics.incIndexSelfHeal()
		return indexFile{}, false
	}
	return idx, true
}

func (m *indexManager) writeIndexLocked(path string, idx indexFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "writeIndex", Err: err}, Path: dir}
	}
	raw, err := json.Marshal(idx)
	if err != nil {
		return &SerializationError{EventStoreError: EventStoreError{Op: "writeIndex", Err: err}}
	}
	tmp := filepath.Join(dir, ".tmp."+uuid.NewString())
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "writeIndex", Err: err}, Path: tmp}
	}
	if m.durable {
		if f, err := os.OpenFile(tmp, os.O_WRONLY, 0o644); err == nil {
			_ = f.Sync()
			_ = f.Close()
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &IOError{EventStoreError: EventStoreError{Op: "writeIndex", Err: err}, Path: path}
	}
	return nil
}

// positionsForType returns the sorted positions recorded for eventType,
// or nil if none exist.
func (m *indexManager) positionsForType(eventType string) []uint64 {
	path := m.typeIndexPath(eventType)
	lock := m.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	idx, _ := m.readIndexLocked(path)
	return idx.Positions
}

// positionsForTag returns the sorted positions recorded for tag t.
func (m *indexManager) positionsForTag(t Tag) []uint64 {
	path := m.tagIndexPath(t)
	lock := m.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	idx, _ := m.readIndexLocked(path)
	return idx.Positions
}

// intersectSorted returns the sorted intersection of two already-sorted
// position slices.
func intersectSorted(a, b []uint64) []uint64 {
	var out []uint64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

// unionSorted returns the sorted, de-duplicated union of already-sorted
// position slices.
func unionSorted(lists ...[]uint64) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, l := range lists {
		for _, p := range l {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// positionsForItem resolves one QueryItem against the indexes: a
// type-OR across its EventTypes, intersected with an AND across its Tags.
// An item with neither types nor tags never matches (matchesItem's "empty
// item matches nothing" rule, mirrored here for the indexed fast path).
func (m *indexManager) positionsForItem(item QueryItem) []uint64 {
	if isEmptyItem(item) {
		return nil
	}

	var typeUnion []uint64
	if len(item.EventTypes) > 0 {
		lists := make([][]uint64, len(item.EventTypes))
		for i, t := range item.EventTypes {
			lists[i] = m.positionsForType(t)
		}
		typeUnion = unionSorted(lists...)
	}

	result := typeUnion
	for i, t := range item.Tags {
		tagPositions := m.positionsForTag(t)
		if i == 0 && len(item.EventTypes) == 0 {
			result = tagPositions
			continue
		}
		result = intersectSorted(result, tagPositions)
	}
	return result
}
