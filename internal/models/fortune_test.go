package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWithTurns(primingTurns int, total int) *FortuneCacheEntry {
	history := make(ConversationHistory, 0, total)
	for i := 0; i < total; i++ {
		history = append(history, Turn{Role: RoleUser, Content: "t"})
	}
	return &FortuneCacheEntry{History: history, PrimingTurns: primingTurns}
}

func TestVisibleHistoryStripsPrimingAndFirstReply(t *testing.T) {
	entry := entryWithTurns(2, 7)

	visible := entry.VisibleHistory()
	assert.Len(t, visible, 4)
}

func TestVisibleHistoryEmptyWhenOnlyPriming(t *testing.T) {
	assert.Empty(t, entryWithTurns(2, 3).VisibleHistory())
	assert.Empty(t, entryWithTurns(2, 0).VisibleHistory())
}

func TestVisibleHistoryLegacyRowsFallBackToThree(t *testing.T) {
	// Rows written before the priming turn count default to hiding the
	// original system/user/assistant prefix.
	entry := entryWithTurns(0, 5)
	assert.Len(t, entry.VisibleHistory(), 2)
}

func TestFirstReplyIndex(t *testing.T) {
	assert.Equal(t, 2, entryWithTurns(2, 5).FirstReplyIndex())
	assert.Equal(t, 4, entryWithTurns(4, 7).FirstReplyIndex())
	// Legacy rows keep the original system/user/assistant layout.
	assert.Equal(t, 2, entryWithTurns(0, 5).FirstReplyIndex())
}

func TestConversationHistoryScanRoundTrip(t *testing.T) {
	original := ConversationHistory{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "今日运势?"},
	}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned ConversationHistory
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}

func TestConversationHistoryScanNilAndEmpty(t *testing.T) {
	var h ConversationHistory
	require.NoError(t, h.Scan(nil))
	assert.Empty(t, h)

	require.NoError(t, h.Scan([]byte{}))
	assert.Empty(t, h)

	assert.Error(t, h.Scan(42))
}
