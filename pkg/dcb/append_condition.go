package dcb

// AppendCondition is a pre-write assertion enforced by Append: the batch
// is rejected if FailIfEventsMatch matches any already-persisted event
// above AfterSequencePosition (when set). Append takes a *AppendCondition;
// a nil condition is vacuously satisfied regardless of any other field.
type AppendCondition struct {
	FailIfEventsMatch     Query
	AfterSequencePosition *uint64
}
