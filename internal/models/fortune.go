package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Turn roles mirror the chat-completion message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single {role, content} entry in a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationHistory is the ordered, append-only turn sequence stored as a
// JSON column.
type ConversationHistory []Turn

// Value implements driver.Valuer for GORM serialization.
func (h ConversationHistory) Value() (driver.Value, error) {
	if h == nil {
		h = ConversationHistory{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for GORM deserialization.
func (h *ConversationHistory) Scan(value any) error {
	if value == nil {
		*h = ConversationHistory{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported conversation history column type %T", value)
	}
	if len(data) == 0 {
		*h = ConversationHistory{}
		return nil
	}
	return json.Unmarshal(data, h)
}

// FortuneCacheEntry is the unit of idempotency and conversation state.
// One entry exists per request fingerprint once a generation for that exact
// request has completed successfully; it is never deleted by the gateway.
type FortuneCacheEntry struct {
	ID uint `gorm:"primarykey" json:"id"`

	// Fingerprint is the full request path+query of the generation request.
	Fingerprint string `gorm:"uniqueIndex;size:2048;not null" json:"fingerprint"`

	// ConversationID is `<uuid>_<yyyymmddhhmmss>`, generated at first
	// successful generation and immutable afterwards.
	ConversationID string `gorm:"uniqueIndex;size:64;not null" json:"conversation_id"`

	// History starts as [system, user, assistant] and grows only in
	// (user, assistant) pairs appended by the continuation manager.
	History ConversationHistory `gorm:"type:text" json:"history"`

	// FinalText is the concatenation of all streamed tokens of the initial
	// generation; immutable after creation.
	FinalText string `gorm:"type:text" json:"final_text"`

	// PrimingTurns records how many leading turns were produced by the
	// prompt template, so visible-history slicing survives template changes.
	PrimingTurns int `gorm:"default:2" json:"priming_turns"`

	Provider  string    `gorm:"size:64" json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM table name.
func (FortuneCacheEntry) TableName() string {
	return "fortune_cache_entries"
}

// FirstReplyIndex returns the history index of the first generated reply.
// Rows predating the priming turn count fall back to the original
// system/user/assistant layout.
func (e *FortuneCacheEntry) FirstReplyIndex() int {
	if e.PrimingTurns < 1 {
		return 2
	}
	return e.PrimingTurns
}

// VisibleHistory returns the turns shown to the end user: everything after
// the priming turns and the first synthetic assistant reply.
func (e *FortuneCacheEntry) VisibleHistory() ConversationHistory {
	hidden := e.FirstReplyIndex() + 1
	if len(e.History) <= hidden {
		return ConversationHistory{}
	}
	return e.History[hidden:]
}

// FortuneUser is the structured profile fed to the prompt builder.
type FortuneUser struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UID       string    `gorm:"column:fortune_telling_uid;uniqueIndex;size:64;not null" json:"fortune_telling_uid"`
	Username  string    `gorm:"size:128" json:"username"`
	BirthDate string    `gorm:"size:32" json:"birth_date"`
	BirthTime string    `gorm:"size:32" json:"birth_time"`
	Gender    string    `gorm:"size:16" json:"gender"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM table name.
func (FortuneUser) TableName() string {
	return "fortune_users"
}

// ConversationView is the user-facing projection of a cache entry.
type ConversationView struct {
	ConversationID string              `json:"conversation_id"`
	History        ConversationHistory `json:"conversation_history"`
}

// ContinueRequest is the JSON body of a continuation turn. Provider is an
// optional override that takes precedence over the query parameter.
type ContinueRequest struct {
	ConversationID string `json:"conversationId"`
	Prompt         string `json:"prompt"`
	Provider       string `json:"provider,omitempty"`
}

// DeskDecorView carries the rotating tips and desk decoration keyword
// extracted from the first generated reading.
type DeskDecorView struct {
	Tips      []string `json:"tips"`
	DeskDecor string   `json:"deskDecor"`
}
