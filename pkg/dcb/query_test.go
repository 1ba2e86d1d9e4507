package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryMatches(t *testing.T) {
	evA := DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "prod")}}
	evB := DomainEvent{EventType: "T1", Tags: []Tag{NewTag("env", "dev")}}
	evC := DomainEvent{EventType: "T2", Tags: []Tag{NewTag("env", "prod")}}
	evD := DomainEvent{EventType: "T2"}

	t.Run("Query.All matches everything, including an event with no tags", func(t *testing.T) {
		q := NewQueryAll()
		assert.True(t, q.Matches(evA))
		assert.True(t, q.Matches(evD))
	})

	t.Run("a single item ANDs types with tags", func(t *testing.T) {
		q := NewQueryFromItems(NewQueryItem([]string{"T1", "T2"}, []Tag{NewTag("env", "prod")}))
		assert.True(t, q.Matches(evA))
		assert.False(t, q.Matches(evB))
		assert.True(t, q.Matches(evC))
		assert.False(t, q.Matches(evD))
	})

	t.Run("multiple items OR together", func(t *testing.T) {
		q := NewQueryFromItems(
			NewQueryItem([]string{"T1"}, nil),
			NewQueryItem(nil, []Tag{NewTag("env", "prod")}),
		)
		assert.True(t, q.Matches(evA))
		assert.True(t, q.Matches(evB))
		assert.True(t, q.Matches(evC))
		assert.False(t, q.Matches(evD))
	})

	t.Run("an empty item matches nothing, unlike Query.All", func(t *testing.T) {
		q := NewQueryFromItems(QueryItem{})
		assert.False(t, q.Matches(evA))
		assert.False(t, q.IsAll())
	})
}

func TestNewTags(t *testing.T) {
	tags := NewTags("course_id", "c1", "status", "active")
	assert.Equal(t, []Tag{NewTag("course_id", "c1"), NewTag("status", "active")}, tags)

	assert.Panics(t, func() {
		NewTags("odd")
	})
}
