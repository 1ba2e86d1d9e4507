package dcb

// NewTag creates a tag with an explicit value.
func NewTag(key, value string) Tag {
	return Tag{Key: key, Value: value, HasValue: true}
}

// NewTagNoValue creates a tag whose value is absent, distinct from a tag
// whose value is the empty string (see safe_name.go).
func NewTagNoValue(key string) Tag {
	return Tag{Key: key}
}

// NewTags builds a slice of tags from alternating key/value strings.
// It panics on an odd argument count, matching the teacher's NewTags.
func NewTags(kv ...string) []Tag {
	if len(kv)%2 != 0 {
		panic("dcb.NewTags: odd number of arguments")
	}
	tags := make([]Tag, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		tags[i/2] = NewTag(kv[i], kv[i+1])
	}
	return tags
}

// NewQueryItem builds a QueryItem from event types and tags.
func NewQueryItem(eventTypes []string, tags []Tag) QueryItem {
	return QueryItem{EventTypes: eventTypes, Tags: tags}
}

// NewQueryFromItems builds a Query as the disjunction of the given items.
func NewQueryFromItems(items ...QueryItem) Query {
	return Query{Items: items}
}

// NewQueryFromEventTypes builds a single-item query matching any of the
// given event types, with no tag constraint.
func NewQueryFromEventTypes(eventTypes ...string) Query {
	return Query{Items: []QueryItem{{EventTypes: eventTypes}}}
}

// NewQueryFromTags builds a single-item query matching events carrying
// all of the given tags, with no event-type constraint.
func NewQueryFromTags(tags ...Tag) Query {
	return Query{Items: []QueryItem{{Tags: tags}}}
}

// NewQueryAll returns the distinguished query matching every event.
func NewQueryAll() Query {
	return Query{}.All()
}

// NewInputEvent builds a NewEventInput with zero metadata; the store
// stamps the timestamp at append time.
func NewInputEvent(eventType string, payload any, tags ...Tag) NewEventInput {
	return NewEventInput{
		Event: DomainEvent{
			EventType: eventType,
			Payload:   payload,
			Tags:      tags,
		},
	}
}

// NewEventBatch is a convenience pass-through for building append batches.
func NewEventBatch(events ...NewEventInput) []NewEventInput {
	return events
}

// NewAppendCondition builds an AppendCondition failing the append if any
// event matching q already exists (optionally bounded by after).
func NewAppendCondition(q Query, after *uint64) AppendCondition {
	return AppendCondition{FailIfEventsMatch: q, AfterSequencePosition: after}
}
