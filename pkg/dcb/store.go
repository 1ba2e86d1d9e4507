package dcb

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventStore is the composed engine: lock + ledger + event files + indices,
// bound to a single configured store (spec §4.5).
type EventStore struct {
	cfg   Config
	lock  *crossProcessLock
	ldgr  *ledger
	files *eventFileManager
	idx   *indexManager

	mu      sync.RWMutex
	deleted bool
}

// NewEventStore validates cfg and wires the four subsystems together. It
// only reads the file system (the ledger and the events directory, for the
// cross-check below) and writes nothing; the store directory is created
// lazily on first write.
func NewEventStore(cfg Config) (*EventStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// An unset Logger field is a Go zero-value struct, not zerolog.Nop() —
	// its level is enabled with a nil writer, so default it explicitly.
	if reflect.ValueOf(cfg.Logger).IsZero() {
		cfg.Logger = zerolog.Nop()
	}

	if cfg.Registry == nil {
		cfg.Registry = NewPayloadRegistry()
	}

	log := cfg.logger()
	storePath := cfg.storePath()

	store := &EventStore{
		cfg:   cfg,
		lock:  newCrossProcessLock(storePath, cfg.CrossProcessLockTimeout, log, cfg.Metrics),
		ldgr:  newLedger(storePath, cfg.FlushEventsImmediately, log, cfg.Metrics),
		files: newEventFileManager(storePath, cfg.FlushEventsImmediately, cfg.WriteProtectEventFiles, cfg.Registry),
		idx:   newIndexManager(storePath, cfg.FlushEventsImmediately, log, cfg.Metrics),
	}

	// Hardening per spec's design note: cross-check the ledger against
	// the highest event file actually on disk. A directory max above the
	// ledger means a prior process crashed between writing files and
	// advancing the ledger; those files are garbage above the commit
	// point and are already excluded by resolveQuery bounding reads to
	// [1, lastPosition], so this is a log-only observation, not an error.
	if highest := store.files.highestPosition(); highest > store.ldgr.lastPosition() {
		log.Warn().
			Uint64("ledger_position", store.ldgr.lastPosition()).
			Uint64("highest_event_file", highest).
			Msg("event files exist above the ledger's recorded position; treating them as uncommitted")
	}

	return store, nil
}

// LastPosition returns the highest assigned position, or 0 for an empty
// store. It does not acquire the cross-process lock (matching Read's
// lock-free contract).
func (s *EventStore) LastPosition() uint64 {
	return s.ldgr.lastPosition()
}

// checkNotDeleted rejects operations against a store this same handle has
// already deleted (spec §7 "store-not-found: referencing an unconfigured
// or deleted store"). Recovery is a fresh NewEventStore call.
func (s *EventStore) checkNotDeleted(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted {
		return &StoreNotFoundError{
			EventStoreError: EventStoreError{Op: op, Err: fmt.Errorf("store %q was deleted", s.cfg.StoreName)},
			StorePath:       s.cfg.storePath(),
		}
	}
	return nil
}

// resolveQuery computes the sorted, de-duplicated set of positions
// matching q against the store's indices, per spec §4.5.Read step 2.
func (s *EventStore) resolveQuery(q Query) []uint64 {
	last := s.ldgr.lastPosition()
	if q.IsAll() {
		all := make([]uint64, last)
		for i := range all {
			all[i] = uint64(i) + 1
		}
		return all
	}

	lists := make([][]uint64, 0, len(q.Items))
	for _, item := range q.Items {
		lists = append(lists, s.idx.positionsForItem(item))
	}
	union := unionSorted(lists...)

	// Bound to [1, last] exactly like the IsAll branch: an index entry
	// above last is either a batch still in flight (recorded at step 5,
	// not yet committed at step 6) or a rollback gap, and spec §4.5/§5
	// guarantee a reader never observes positions the ledger hasn't
	// published yet.
	bounded := union[:0:0]
	for _, p := range union {
		if p <= last {
			bounded = append(bounded, p)
		}
	}
	return bounded
}

// Append validates condition against current state, assigns sequential
// positions, writes event files and index entries, then advances the
// ledger — the commit point. A nil condition is vacuously satisfied.
func (s *EventStore) Append(ctx context.Context, events []NewEventInput, condition *AppendCondition) ([]uint64, error) {
	if err := s.checkNotDeleted("Append"); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, &InvalidQueryError{
			EventStoreError: EventStoreError{Op: "Append", Err: fmt.Errorf("events must be non-empty")},
			Field:           "events",
		}
	}
	for i, e := range events {
		if e.Event.EventType == "" {
			return nil, &InvalidQueryError{
				EventStoreError: EventStoreError{Op: "Append", Err: fmt.Errorf("event %d has an empty event type", i)},
				Field:           "events[].event_type",
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{EventStoreError{Op: "Append", Err: err}}
	}

	start := time.Now()
	handle, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Release()
	defer func() { s.cfg.Metrics.observeAppend(time.Since(start).Seconds()) }()

	// Step 1: validate append condition.
	if condition != nil {
		matched := s.resolveQuery(condition.FailIfEventsMatch)
		if condition.AfterSequencePosition != nil {
			after := *condition.AfterSequencePosition
			filtered := matched[:0:0]
			for _, p := range matched {
				if p > after {
					filtered = append(filtered, p)
				}
			}
			matched = filtered
		}
		if len(matched) > 0 {
			base := AppendConditionFailedError{
				EventStoreError:  EventStoreError{Op: "Append", Err: fmt.Errorf("append condition failed: %d matching event(s)", len(matched))},
				MatchedPositions: matched,
			}
			expected := uint64(0)
			if condition.AfterSequencePosition != nil {
				expected = *condition.AfterSequencePosition
			}
			return nil, &ConcurrencyError{
				AppendConditionFailedError: base,
				ExpectedSequence:           expected,
				ActualSequence:             s.ldgr.lastPosition(),
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{EventStoreError{Op: "Append", Err: err}}
	}

	// Step 2: assign positions.
	base := s.ldgr.lastPosition()
	positions := make([]uint64, len(events))
	for i := range events {
		positions[i] = base + uint64(i) + 1
	}

	// Step 3: stamp metadata, step 4: write event files.
	now := time.Now().UTC()
	written := make([]uint64, 0, len(events))
	indexed := make([]int, 0, len(events)) // indices into events whose index entries were fully recorded
	rollback := func() {
		for _, i := range indexed {
			s.idx.unrecord(positions[i], events[i].Event)
		}
		for _, p := range written {
			s.files.remove(p)
		}
	}

	for i, e := range events {
		meta := e.Metadata
		if meta.Timestamp.IsZero() {
			meta.Timestamp = now
		}
		seq := SequencedEvent{Position: positions[i], Event: e.Event, Metadata: meta}
		if err := s.files.write(seq, false); err != nil {
			rollback()
			return nil, err
		}
		written = append(written, positions[i])
	}

	// Step 5: update indices.
	for i, e := range events {
		if err := s.idx.record(positions[i], e.Event); err != nil {
			rollback()
			return nil, err
		}
		indexed = append(indexed, i)
	}

	// Step 6: update ledger — the commit point.
	if err := s.ldgr.updatePosition(base+uint64(len(events)), s.ldgr.eventCount()+uint64(len(events))); err != nil {
		rollback()
		return nil, err
	}

	return positions, nil
}

// Read resolves query against the indices, filters by fromPosition,
// fetches the matching event files, and orders the result. It does not
// acquire the cross-process lock.
func (s *EventStore) Read(ctx context.Context, query Query, options []ReadOption, fromPosition *uint64) ([]SequencedEvent, error) {
	if err := s.checkNotDeleted("Read"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{EventStoreError{Op: "Read", Err: err}}
	}

	start := time.Now()
	defer func() { s.cfg.Metrics.observeRead(time.Since(start).Seconds()) }()

	positions := s.resolveQuery(query)
	if fromPosition != nil && *fromPosition > 0 {
		from := *fromPosition
		filtered := positions[:0:0]
		for _, p := range positions {
			if p > from {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}

	if len(positions) == 0 {
		return nil, nil
	}

	events := make([]SequencedEvent, 0, len(positions))
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{EventStoreError{Op: "Read", Err: err}}
		}
		ev, err := s.files.read(p)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if hasOption(options, Descending) {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	return events, nil
}
