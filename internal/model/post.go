package model

import (
	"encoding/json"
	"time"
)

// Post is the canonical, provider-agnostic representation of one piece of
// scraped content. ExternalID is the platform-assigned post identifier and is
// unique across the whole corpus: the same post discovered through two
// different sources is stored once, attributed to whichever source saw it
// first. Posts are never mutated after ingestion.
type Post struct {
	ID           string          `json:"id"`
	SourceID     *string         `json:"source_id,omitempty"`
	ExternalID   string          `json:"external_id"`
	AuthorName   string          `json:"author_name"`
	AuthorURL    string          `json:"author_url"`
	Content      string          `json:"content"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
	LikeCount    int             `json:"like_count"`
	CommentCount int             `json:"comment_count"`
	IngestedAt   time.Time       `json:"ingested_at"`
	RawData      json.RawMessage `json:"raw_data,omitempty"`
}
