package ragent_test

import (
	"testing"
	"time"

	"github.com/nageoffer/ragent"
	"github.com/stretchr/testify/assert"
)

func TestSession_Clone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := ragent.Session{
		ID:       "c1",
		Title:    "Planning",
		LastTime: now,
		Messages: []ragent.Message{{ID: "m1", Role: ragent.RoleUser, Content: "hello"}},
	}

	c := s.Clone()
	c.Messages[0].Content = "changed"

	assert.Equal(t, "hello", s.Messages[0].Content)
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, now, c.LastTime)
}

func TestSession_CloneEmpty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ragent.Session{ID: "c1"}.Clone().Messages)
}
