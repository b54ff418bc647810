package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCursorPrecedes(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	earlier := Message{ID: 9, CreatedAt: at.Add(-time.Second)}
	tiedLower := Message{ID: 4, CreatedAt: at}
	tiedHigher := Message{ID: 6, CreatedAt: at}

	c := Cursor{CreatedAt: at, ID: 5}
	assert.True(t, c.Precedes(earlier))
	assert.True(t, c.Precedes(tiedLower))
	assert.False(t, c.Precedes(tiedHigher))
	assert.False(t, c.Precedes(Message{ID: 5, CreatedAt: at}))

	timeOnly := Cursor{CreatedAt: at}
	assert.True(t, timeOnly.Precedes(earlier))
	assert.False(t, timeOnly.Precedes(tiedLower))
}

func TestFilterBeforeUsesCursor(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := MessageFilter{Before: CursorOf(Message{ID: 5, CreatedAt: at})}
	assert.True(t, f.Matches(Message{ID: 4, CreatedAt: at}))
	assert.False(t, f.Matches(Message{ID: 7, CreatedAt: at}))
}
