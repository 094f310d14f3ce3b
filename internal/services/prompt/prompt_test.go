package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/fortunelab/fortune-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *models.FortuneUser {
	return &models.FortuneUser{
		UID:       "uid-1",
		Username:  "小明",
		BirthDate: "1995-03-14",
		BirthTime: "08:30",
		Gender:    "male",
	}
}

func TestBuildFortunePromptIncludesProfile(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	p := BuildFortunePrompt(testUser(), now)

	assert.Contains(t, p, "小明")
	assert.Contains(t, p, "1995-03-14")
	assert.Contains(t, p, "08:30")
	assert.Contains(t, p, "男性")
	assert.Contains(t, p, "2026-08-31")
	assert.Contains(t, p, `<div class="fortune-tip">`)
	assert.Contains(t, p, `img class="desk-decor"`)
}

func TestBuildFortunePromptGenderDefaultsToFemale(t *testing.T) {
	user := testUser()
	user.Gender = ""
	p := BuildFortunePrompt(user, time.Now())

	assert.Contains(t, p, "女性")
	assert.NotContains(t, p, "男性")
}

func TestBuildFortunePromptListsThreeDecorOptions(t *testing.T) {
	p := BuildFortunePrompt(testUser(), time.Now())

	marker := "目前可用的摆件列表: "
	idx := strings.Index(p, marker)
	require.NotEqual(t, -1, idx)

	line := p[idx+len(marker):]
	line = line[:strings.IndexByte(line, '\n')]
	assert.Len(t, strings.Split(line, ","), 3)
}

func TestPrimingTurnsShape(t *testing.T) {
	turns := PrimingTurns(testUser(), time.Now())

	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleSystem, turns[0].Role)
	assert.Equal(t, SystemPrompt, turns[0].Content)
	assert.Equal(t, models.RoleUser, turns[1].Role)
	assert.Contains(t, turns[1].Content, "小明")
}

func TestRandomDecorDrawsFromPool(t *testing.T) {
	pool := make(map[string]bool, len(availableDecor))
	for _, d := range availableDecor {
		pool[d] = true
	}

	for i := 0; i < 20; i++ {
		picks := randomDecor(3)
		require.Len(t, picks, 3)
		seen := make(map[string]bool, 3)
		for _, p := range picks {
			assert.True(t, pool[p], "unknown decor %q", p)
			assert.False(t, seen[p], "duplicate decor %q", p)
			seen[p] = true
		}
	}
}

func TestRandomDecorClampsToPoolSize(t *testing.T) {
	picks := randomDecor(len(availableDecor) + 5)
	assert.Len(t, picks, len(availableDecor))
}
