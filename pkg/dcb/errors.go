package dcb

import (
	"errors"
	"fmt"
)

// EventStoreError is the base error type embedded by every kind-specific
// error below. Op names the failing operation.
type EventStoreError struct {
	Op  string
	Err error
}

func (e *EventStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dcb: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dcb: %s", e.Op)
}

func (e *EventStoreError) Unwrap() error { return e.Err }

// StoreNotFoundError is returned when an operation references a store
// that this EventStore handle has already deleted via DeleteStore.
type StoreNotFoundError struct {
	EventStoreError
	StorePath string
}

// InvalidQueryError is returned when a query fails structural checks.
type InvalidQueryError struct {
	EventStoreError
	Field string
}

// AppendConditionFailedError is returned when FailIfEventsMatch produced
// a non-empty filtered set of positions.
type AppendConditionFailedError struct {
	EventStoreError
	MatchedPositions []uint64
}

// ConcurrencyError is the specialized sub-kind of
// AppendConditionFailedError carrying the expected/actual sequence
// numbers; errors.As against AppendConditionFailedError also matches it.
type ConcurrencyError struct {
	AppendConditionFailedError
	ExpectedSequence uint64
	ActualSequence   uint64
}

// As lets errors.As match a *ConcurrencyError against a
// *AppendConditionFailedError target.
func (e *ConcurrencyError) As(target any) bool {
	if t, ok := target.(**AppendConditionFailedError); ok {
		*t = &e.AppendConditionFailedError
		return true
	}
	return false
}

// TimeoutError is returned when the cross-process lock was not acquired
// within the configured CrossProcessLockTimeout.
type TimeoutError struct {
	EventStoreError
	SentinelPath string
	ConfigField  string
}

// EventNotFoundError is returned when a requested position has no
// backing file, typically indicating corruption.
type EventNotFoundError struct {
	EventStoreError
	Position uint64
}

// SerializationError is returned for an unknown payload discriminator or
// malformed event JSON on read.
type SerializationError struct {
	EventStoreError
	Discriminator string
}

// IOError wraps an underlying file-system failure.
type IOError struct {
	EventStoreError
	Path string
}

// CancelledError is returned when an operation was aborted via its
// cancellation context.
type CancelledError struct {
	EventStoreError
}

// ValidationError is returned for configuration or input validation
// failures; Fields lists every offending field so callers see the full
// picture in one error, not just the first violation.
type ValidationError struct {
	EventStoreError
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dcb: %s: invalid fields: %v", e.Op, e.Fields)
}

// =============================================================================
// Detection helpers — mirrors the teacher's Is<Kind>Error / Get<Kind>Error pairing.
// =============================================================================

func IsStoreNotFoundError(err error) bool {
	var e *StoreNotFoundError
	return errors.As(err, &e)
}

func IsInvalidQueryError(err error) bool {
	var e *InvalidQueryError
	return errors.As(err, &e)
}

func IsAppendConditionFailedError(err error) bool {
	var e *AppendConditionFailedError
	return errors.As(err, &e)
}

func IsConcurrencyError(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

func IsEventNotFoundError(err error) bool {
	var e *EventNotFoundError
	return errors.As(err, &e)
}

func IsSerializationError(err error) bool {
	var e *SerializationError
	return errors.As(err, &e)
}

func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

func IsCancelledError(err error) bool {
	var e *CancelledError
	return errors.As(err, &e)
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func GetConcurrencyError(err error) (*ConcurrencyError, bool) {
	var e *ConcurrencyError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func GetValidationError(err error) (*ValidationError, bool) {
	var e *ValidationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
