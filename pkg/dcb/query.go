package dcb

// QueryItem is a single conjunctive filter: event types compose by OR
// within the item, tags compose by AND within the item, and the two
// groups compose by AND with each other. An item with neither types nor
// tags matches nothing; Query.All() is the only query matching everything.
type QueryItem struct {
	EventTypes []string
	Tags       []Tag
}

// Query is a disjunction of QueryItems: an event matches the query if it
// matches any one item.
type Query struct {
	Items []QueryItem

	// all marks the distinguished Query.All() value, matching every
	// event regardless of its (possibly empty) items. An empty QueryItem
	// appearing anywhere else deliberately contributes nothing — see
	// matchesItem and indexManager.positionsForItem.
	all bool
}

// All returns the distinguished query that matches every event in the
// store, positions 1..last_position inclusive.
func (Query) All() Query {
	return Query{all: true}
}

// IsAll reports whether q is the distinguished Query.All() value.
func (q Query) IsAll() bool {
	return q.all
}

func isEmptyItem(item QueryItem) bool {
	return len(item.EventTypes) == 0 && len(item.Tags) == 0
}

// matchesItem reports whether a domain event satisfies a single
// QueryItem's logical semantics: event-type OR, tag AND, empty item
// matches nothing (in deliberate contrast to Query.All()).
func matchesItem(item QueryItem, ev DomainEvent) bool {
	if isEmptyItem(item) {
		return false
	}

	typeOK := len(item.EventTypes) == 0
	for _, t := range item.EventTypes {
		if t == ev.EventType {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}

	for _, want := range item.Tags {
		found := false
		for _, got := range ev.Tags {
			if got.Key == want.Key && got.Value == want.Value && got.HasValue == want.HasValue {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Matches reports whether a domain event satisfies the query as a whole:
// Query.All() matches unconditionally, otherwise any matching item wins.
func (q Query) Matches(ev DomainEvent) bool {
	if q.all {
		return true
	}
	for _, item := range q.Items {
		if matchesItem(item, ev) {
			return true
		}
	}
	return false
}
