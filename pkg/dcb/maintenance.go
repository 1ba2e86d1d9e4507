package dcb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// AddTagsResult reports the outcome of an AddTags maintenance run.
type AddTagsResult struct {
	EventsProcessed uint64
	TagsAdded       uint64
}

// DeleteStore removes the store's directory tree and resets its ledger
// and indices. It succeeds gracefully if the directory is already absent,
// and clears any write-protection before deleting so WriteProtectEventFiles
// never blocks cleanup.
func (s *EventStore) DeleteStore(ctx context.Context) error {
	handle, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()

	storePath := s.cfg.storePath()
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return nil
	}

	if err := filepath.Walk(storePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return os.Chmod(path, 0o644)
		}
		return nil
	}); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "DeleteStore", Err: err}, Path: storePath}
	}

	if err := os.RemoveAll(storePath); err != nil {
		return &IOError{EventStoreError: EventStoreError{Op: "DeleteStore", Err: err}, Path: storePath}
	}

	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
	return nil
}

// TagFactory derives additional tags for an existing event during AddTags.
// Keys already present on the event are left untouched.
type TagFactory func(SequencedEvent) []Tag

// AddTags invokes factory for every existing event of eventType, appending
// any returned tag whose key is not already present on that event. Each
// event is rewritten atomically (temp-file overwrite via the event-file
// manager's overwrite path) and the new tag is recorded in its by-tag
// index. Existing tag values are never removed or overwritten.
func (s *EventStore) AddTags(ctx context.Context, eventType string, factory TagFactory) (AddTagsResult, error) {
	if err := s.checkNotDeleted("AddTags"); err != nil {
		return AddTagsResult{}, err
	}
	if eventType == "" {
		return AddTagsResult{}, &InvalidQueryError{
			EventStoreError: EventStoreError{Op: "AddTags", Err: fmt.Errorf("eventType must not be empty")},
			Field:           "event_type",
		}
	}

	handle, err := s.lock.Acquire(ctx)
	if err != nil {
		return AddTagsResult{}, err
	}
	defer handle.Release()

	var result AddTagsResult
	positions := s.idx.positionsForType(eventType)
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return result, &CancelledError{EventStoreError{Op: "AddTags", Err: err}}
		}

		ev, err := s.files.read(p)
		if err != nil {
			return result, err
		}

		existing := make(map[string]bool, len(ev.Event.Tags))
		for _, t := range ev.Event.Tags {
			existing[t.Key] = true
		}

		var added []Tag
		for _, t := range factory(ev) {
			if existing[t.Key] {
				continue
			}
			existing[t.Key] = true
			added = append(added, t)
		}

		result.EventsProcessed++
		if len(added) == 0 {
			continue
		}

		ev.Event.Tags = append(ev.Event.Tags, added...)
		if err := s.files.write(ev, true); err != nil {
			return result, err
		}
		for _, t := range added {
			if err := s.idx.appendPosition(s.idx.tagIndexPath(t), p); err != nil {
				return result, err
			}
		}
		result.TagsAdded += uint64(len(added))
	}

	return result, nil
}
