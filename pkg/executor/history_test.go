package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHistory_NoteStartAndGet(t *testing.T) {
	h := NewHistory(zap.NewNop(), "demotion", time.Hour)
	now := time.Now()

	h.NoteStart(1, now)
	got, ok := h.Get(1)
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), got)
}

func TestHistory_PermanentNeverOverwrittenByNoteStart(t *testing.T) {
	h := NewHistory(zap.NewNop(), "removal", time.Hour)
	h.MarkPermanent([]int32{1})

	h.NoteStart(1, time.Now())

	got, ok := h.Get(1)
	require.True(t, ok)
	assert.Equal(t, Permanent, got)
}

func TestHistory_SweepRemovesExpiredOnly(t *testing.T) {
	h := NewHistory(zap.NewNop(), "demotion", time.Hour)
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now()

	h.NoteStart(1, old)
	h.NoteStart(2, recent)
	h.MarkPermanent([]int32{3})

	removed := h.Sweep(time.Now())
	assert.Equal(t, 1, removed)

	_, oldExists := h.Get(1)
	_, recentExists := h.Get(2)
	_, permExists := h.Get(3)
	assert.False(t, oldExists)
	assert.True(t, recentExists)
	assert.True(t, permExists, "P5: permanent entries survive sweep regardless of age")
}

func TestHistory_Drop(t *testing.T) {
	h := NewHistory(zap.NewNop(), "demotion", time.Hour)
	h.NoteStart(1, time.Now())
	h.Drop([]int32{1})

	_, ok := h.Get(1)
	assert.False(t, ok)
}
