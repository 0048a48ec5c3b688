// Package transcript persists a record of every conversation turn.
package transcript

import "time"

// Turn is one question and its outcome.
type Turn struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	Question       string         `json:"question"`
	Intent         string         `json:"intent,omitempty"`
	EntityID       string         `json:"entity_id,omitempty"`
	MatchKind      string         `json:"match_kind,omitempty"`
	Category       string         `json:"category,omitempty"`
	TemplateID     string         `json:"template_id,omitempty"`
	GeneratedQuery string         `json:"generated_query,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	RowCount       int            `json:"row_count"`
	Answer         string         `json:"answer"`
	Confidence     float64        `json:"confidence"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
}
