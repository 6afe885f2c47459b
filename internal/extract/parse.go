package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-scout/internal/model"
)

// ErrInvalidExtraction marks a model response that could not be turned into a
// signal. It is retryable: a second completion usually comes back well-formed.
var ErrInvalidExtraction = eris.New("extract: invalid model response")

// extraction mirrors the JSON object the model is asked to produce.
type extraction struct {
	IsEventRelated *bool    `json:"is_event_related"`
	EventType      *string  `json:"event_type"`
	EventTiming    string   `json:"event_timing"`
	EventDate      *string  `json:"event_date"`
	DateIsInferred bool     `json:"date_is_inferred"`
	Companies      []string `json:"companies_mentioned"`
	People         []string `json:"people_mentioned"`
	RelevanceScore *float64 `json:"relevance_score"`
	Summary        string   `json:"summary"`
}

// parseExtraction turns raw model output into a Signal for postID. Missing
// required fields fail the parse; out-of-range and out-of-vocabulary values
// are normalized instead.
func parseExtraction(raw string, postID string, vocab Vocabulary) (*model.Signal, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, eris.Wrap(ErrInvalidExtraction, "empty response")
	}

	var ext extraction
	if err := json.Unmarshal([]byte(cleaned), &ext); err != nil {
		return nil, eris.Wrapf(ErrInvalidExtraction, "decode: %v", err)
	}
	if ext.IsEventRelated == nil {
		return nil, eris.Wrap(ErrInvalidExtraction, "missing is_event_related")
	}
	if ext.RelevanceScore == nil {
		return nil, eris.Wrap(ErrInvalidExtraction, "missing relevance_score")
	}

	sig := &model.Signal{
		PostID:         postID,
		IsEventRelated: *ext.IsEventRelated,
		EventTiming:    normalizeTiming(ext.EventTiming),
		DateInferred:   ext.DateIsInferred,
		Companies:      ext.Companies,
		People:         ext.People,
		RelevanceScore: clampScore(*ext.RelevanceScore),
		Summary:        strings.TrimSpace(ext.Summary),
		RawResponse:    json.RawMessage(cleaned),
	}

	if ext.EventType != nil {
		sig.EventType = vocab.Coerce(*ext.EventType)
	}
	if ext.EventDate != nil && *ext.EventDate != "" {
		if d, err := time.Parse("2006-01-02", *ext.EventDate); err == nil {
			d = d.UTC()
			sig.EventDate = &d
		}
	}
	return sig, nil
}

// cleanJSON strips markdown fences and any prose around the JSON object.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// clampScore forces the relevance score into [0, 1].
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func normalizeTiming(timing string) model.EventTiming {
	switch model.EventTiming(strings.ToLower(strings.TrimSpace(timing))) {
	case model.EventTimingPast:
		return model.EventTimingPast
	case model.EventTimingFuture:
		return model.EventTimingFuture
	default:
		return model.EventTimingUnknown
	}
}
