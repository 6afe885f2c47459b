package model

import (
	"encoding/json"
	"time"
)

// EventTiming places a detected event relative to the post's publication.
type EventTiming string

const (
	EventTimingPast    EventTiming = "past"
	EventTimingFuture  EventTiming = "future"
	EventTimingUnknown EventTiming = "unknown"
)

// DefaultEventTypes is the built-in closed vocabulary for event
// classification. Unknown categories returned by the extractor are coerced to
// "other" rather than rejected; the vocabulary can be extended via the
// extractor's vocabulary file.
var DefaultEventTypes = []string{
	"seminar",
	"convention",
	"product_launch",
	"anniversary",
	"trade_show",
	"conference",
	"webinar",
	"networking",
	"other",
}

// Signal is the structured extraction result for exactly one Post (1:1). A
// post the extractor looked at and found nothing in still gets a Signal with
// IsEventRelated=false and a near-zero score, so "analyzed, not relevant" is
// distinguishable from "not yet analyzed". Signals are created once and never
// mutated.
type Signal struct {
	ID             string          `json:"id"`
	PostID         string          `json:"post_id"`
	IsEventRelated bool            `json:"is_event_related"`
	EventType      string          `json:"event_type,omitempty"`
	EventTiming    EventTiming     `json:"event_timing"`
	EventDate      *time.Time      `json:"event_date,omitempty"`
	DateInferred   bool            `json:"date_inferred"`
	Companies      []string        `json:"companies_mentioned"`
	People         []string        `json:"people_mentioned"`
	RelevanceScore float64         `json:"relevance_score"`
	Summary        string          `json:"summary"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
