package dcb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	t.Run("IsConcurrencyError also matches via the AppendConditionFailedError embedding", func(t *testing.T) {
		err := &ConcurrencyError{
			AppendConditionFailedError: AppendConditionFailedError{
				EventStoreError:  EventStoreError{Op: "Append", Err: fmt.Errorf("boom")},
				MatchedPositions: []uint64{3},
			},
			ExpectedSequence: 0,
			ActualSequence:   3,
		}
		assert.True(t, IsConcurrencyError(err))
		assert.True(t, IsAppendConditionFailedError(err))

		got, ok := GetConcurrencyError(err)
		assert.True(t, ok)
		assert.Equal(t, uint64(3), got.ActualSequence)
	})

	t.Run("ValidationError.Error lists every offending field", func(t *testing.T) {
		err := &ValidationError{
			EventStoreError: EventStoreError{Op: "Config.Validate"},
			Fields:          []string{"root_path: must not be empty", "store_name: must not be empty"},
		}
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "root_path")
		assert.Contains(t, err.Error(), "store_name")
	})

	t.Run("wrapped errors are still detected through errors.As", func(t *testing.T) {
		inner := &IOError{EventStoreError: EventStoreError{Op: "write", Err: errors.New("disk full")}, Path: "/tmp/x"}
		wrapped := fmt.Errorf("append failed: %w", inner)
		assert.True(t, IsIOError(wrapped))
		assert.False(t, IsTimeoutError(wrapped))
	})

	t.Run("SerializationError carries the offending discriminator", func(t *testing.T) {
		err := &SerializationError{
			EventStoreError: EventStoreError{Op: "unmarshalPayload", Err: errors.New("unregistered")},
			Discriminator:   "unknown.Type",
		}
		assert.True(t, IsSerializationError(err))
		assert.Equal(t, "unknown.Type", err.Discriminator)
	})
}
