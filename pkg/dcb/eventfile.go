package dcb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const eventsDirName = "events"

// persistedEvent is the on-disk JSON shape of a SequencedEvent (spec §6):
// it preserves position, event type, tags, payload, and metadata.
type persistedEvent struct {
	Position uint64          `json:"position"`
	Type     string          `json:"event_type"`
	Tags     []persistedTag  `json:"tags"`
	Payload  json.RawMessage `json:"event"`
	Metadata persistedMeta   `json:"metadata"`
}

type persistedTag struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"has_value"`
}

type persistedMeta struct {
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// eventFileManager maps positions to on-disk files under <store>/events
// and performs atomic per-event writes and ordered batch reads (§4.3).
type eventFileManager struct {
	eventsDir string
	durable   bool
	readOnly  bool
	registry  *PayloadRegistry
}

func newEventFileManager(storePath string, durable, readOnly bool, registry *PayloadRegistry) *eventFileManager {
	return &eventFileManager{
		eventsDir: filepath.Join(storePath, eventsDirName),
		durable:   durable,
		readOnly:  readOnly,
		registry:  registry,
	}
}

// filePath returns the file for position p: the decimal position,
// zero-padded to 10 digits, with a .json suffix.
func (m *eventFileManager) filePath(p uint64) (string, error) {
	if p < 1 {
		return "", &EventStoreError{Op: "filePath", Err: fmt.Errorf("position must be >= 1, got %d", p)}
	}
	return filepath.Join(m.eventsDir, fmt.Sprintf("%010d.json", p)), nil
}

// exists reports whether an event file for position p is present.
func (m *eventFileManager) exists(p uint64) bool {
	path, err := m.filePath(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// write serializes and atomically persists a sequenced event: write to a
// uniquely-named temp file in eventsDir, then rename over the final
// name. overwrite permits replacing an existing file (used only by the
// AddTags maintenance operation).
func (m *eventFileManager) write(ev SequencedEvent, overwrite bool) error {
	path, err := m.filePath(ev.Position)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.eventsDir, 0o755); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: m.eventsDir}
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return &IOError{
				EventStoreError: EventStoreError{Op: "write", Err: fmt.Errorf("event file already exists at position %d", ev.Position)},
				Path:            path,
			}
		}
	}

	payload, err := m.registry.marshalPayload(ev.Event.Payload)
	if err != nil {
		return err
	}

	tags := make([]persistedTag, len(ev.Event.Tags))
	for i, t := range ev.Event.Tags {
		tags[i] = persistedTag{Key: t.Key, Value: t.Value, HasValue: t.HasValue}
	}

	pe := persistedEvent{
		Position: ev.Position,
		Type:     ev.Event.EventType,
		Tags:     tags,
		Payload:  payload,
		Metadata: persistedMeta{
			Timestamp:     ev.Metadata.Timestamp.UTC().Format(rfc3339Nano),
			CorrelationID: ev.Metadata.CorrelationID,
			CausationID:   ev.Metadata.CausationID,
		},
	}

	raw, err := json.Marshal(pe)
	if err != nil {
		return &SerializationError{EventStoreError: EventStoreError{Op: "write", Err: err}}
	}

	tmp := filepath.Join(m.eventsDir, fmt.Sprintf(".tmp.%s", uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: tmp}
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: tmp}
	}
	if m.durable {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: tmp}
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: tmp}
	}

	if overwrite {
		// The target may be read-only from a prior write-protected write.
		_ = os.Chmod(path, 0o644)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &IOError{EventStoreError: EventStoreError{Op: "write", Err: err}, Path: path}
	}

	if m.readOnly {
		_ = os.Chmod(path, 0o444)
	}
	return nil
}

// read fetches and fully reconstructs the event at position p.
func (m *eventFileManager) read(p uint64) (SequencedEvent, error) {
	path, err := m.filePath(p)
	if err != nil {
		return SequencedEvent{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SequencedEvent{}, &EventNotFoundError{
				EventStoreError: EventStoreError{Op: "read", Err: err},
				Position:        p,
			}
		}
		return SequencedEvent{}, &IOError{EventStoreError: EventStoreError{Op: "read", Err: err}, Path: path}
	}

	return m.decodeEvent(raw)
}

func (m *eventFileManager) decodeEvent(raw []byte) (SequencedEvent, error) {
	var pe persistedEvent
	if err := json.Unmarshal(raw, &pe); err != nil {
		return SequencedEvent{}, &SerializationError{EventStoreError: EventStoreError{Op: "decodeEvent", Err: err}}
	}

	payload, err := m.registry.unmarshalPayload(pe.Payload)
	if err != nil {
		return SequencedEvent{}, err
	}

	tags := make([]Tag, len(pe.Tags))
	for i, t := range pe.Tags {
		tags[i] = Tag{Key: t.Key, Value: t.Value, HasValue: t.HasValue}
	}

	ts, err := parseRFC3339Nano(pe.Metadata.Timestamp)
	if err != nil {
		return SequencedEvent{}, &SerializationError{EventStoreError: EventStoreError{Op: "decodeEvent", Err: err}}
	}

	return SequencedEvent{
		Position: pe.Position,
		Event: DomainEvent{
			EventType: pe.Type,
			Payload:   payload,
			Tags:      tags,
		},
		Metadata: Metadata{
			Timestamp:     ts,
			CorrelationID: pe.Metadata.CorrelationID,
			CausationID:   pe.Metadata.CausationID,
		},
	}, nil
}

// readMany returns events in the exact order of positions. A missing
// position fails the whole call. Reads are issued concurrently; results
// are reassembled in input order.
func (m *eventFileManager) readMany(positions []uint64) ([]SequencedEvent, error) {
	results := make([]SequencedEvent, len(positions))
	errs := make([]error, len(positions))

	var wg sync.WaitGroup
	for i, p := range positions {
		wg.Add(1)
		go func(i int, p uint64) {
			defer wg.Done()
			ev, err := m.read(p)
			results[i] = ev
			errs[i] = err
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// highestPosition scans eventsDir and returns the highest position for
// which a file exists, or 0 if the directory is absent/empty. Used only
// to cross-check the ledger on startup (spec §9 "hardened implementation").
func (m *eventFileManager) highestPosition() uint64 {
	entries, err := os.ReadDir(m.eventsDir)
	if err != nil {
		return 0
	}
	var positions []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp.") {
			continue
		}
		p, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		positions = append(positions, p)
	}
	if len(positions) == 0 {
		return 0
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions[len(positions)-1]
}

// remove deletes the event file for position p, if present. Best-effort,
// used by Append's rollback path.
func (m *eventFileManager) remove(p uint64) {
	path, err := m.filePath(p)
	if err != nil {
		return
	}
	_ = os.Chmod(path, 0o644)
	_ = os.Remove(path)
}
