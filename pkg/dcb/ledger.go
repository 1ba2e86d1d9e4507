package dcb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const ledgerFileName = ".ledger"

// ledgerState is the minimal JSON persisted by the ledger (spec §4.2).
type ledgerState struct {
	LastSequencePosition uint64 `json:"lastSequencePosition"`
	EventCount           uint64 `json:"eventCount"`
}

// ledger persists the single authoritative "highest assigned position"
// counter for a store.
type ledger struct {
	storePath string
	durable   bool
	log       zerolog.Logger
	metrics   *Metrics
}

func newLedger(storePath string, durable bool, log zerolog.Logger, metrics *Metrics) *ledger {
	return &ledger{storePath: storePath, durable: durable, log: log, metrics: metrics}
}

func (l *ledger) path() string {
	return filepath.Join(l.storePath, ledgerFileName)
}

// lastPosition returns 0 when the ledger file is absent, empty, or
// malformed — corruption is deliberately treated as "start from zero".
// Append assigns new positions from this value alone; an event file that
// already exists at an assigned position is never replaced, because the
// event-file manager's write refuses to overwrite it and the Append fails.
// NewEventStore only logs a warning when event files exist above the
// ledger's position.
func (l *ledger) lastPosition() uint64 {
	state, ok := l.readState()
	if !ok {
		return 0
	}
	return state.LastSequencePosition
}

// eventCount mirrors lastPosition's corruption handling for the
// secondary eventCount field.
func (l *ledger) eventCount() uint64 {
	state, ok := l.readState()
	if !ok {
		return 0
	}
	return state.EventCount
}

func (l *ledger) readState() (ledgerState, bool) {
	raw, err := os.ReadFile(l.path())
	if err != nil {
		return ledgerState{}, false
	}
	if len(raw) == 0 {
		return ledgerState{}, false
	}
	var state ledgerState
	if err := json.Unmarshal(raw, &state); err != nil {
		l.log.Warn().Err(err).Str("path", l.path()).Msg("ledger file malformed, treating as zero")
		l.metrics.incLedgerCorrupted()
		return ledgerState{}, false
	}
	return state, true
}

// nextPosition returns lastPosition()+1.
func (l *ledger) nextPosition() uint64 {
	return l.lastPosition() + 1
}

// updatePosition atomically persists p as the new last sequence
// position and count via a uniquely-named temp file and rename.
func (l *ledger) updatePosition(p uint64, count uint64) error {
	state := ledgerState{LastSequencePosition: p, EventCount: count}
	raw, err := json.Marshal(state)
	if err != nil {
		return &SerializationError{EventStoreError: EventStoreError{Op: "ledger.updatePosition", Err: err}}
	}

	if err := os.MkdirAll(l.storePath, 0o755); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "ledger.updatePosition", Err: err}, Path: l.storePath}
	}

	tmp := filepath.Join(l.storePath, fmt.Sprintf(".ledger.tmp.%s", uuid.NewString()))
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "ledger.updatePosition", Err: err}, Path: tmp}
	}
	if l.durable {
		if f, err := os.OpenFile(tmp, os.O_WRONLY, 0o644); err == nil {
			_ = f.Sync()
			_ = f.Close()
		}
	}
	if err := os.Rename(tmp, l.path()); err != nil {
		_ = os.Remove(tmp)
		return &IOError{EventStoreError: EventStoreError{Op: "ledger.updatePosition", Err: err}, Path: l.path()}
	}
	return nil
}
