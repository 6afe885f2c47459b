// Package model defines the core entities of the signal pipeline: monitored
// sources, ingested posts, extracted signals, and job runs.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// SourceKind discriminates the two source variants.
type SourceKind string

const (
	SourceKindProfile SourceKind = "profile"
	SourceKindSearch  SourceKind = "search"
)

// TermKind classifies a search source's term.
type TermKind string

const (
	TermKindKeyword TermKind = "keyword"
	TermKindHashtag TermKind = "hashtag"
)

// Source is a watched LinkedIn target: either a profile (ProfileURL set) or a
// search (Term + TermKind set), discriminated by Kind. One payload shape per
// kind, one identity and lifecycle for both.
type Source struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Kind          SourceKind    `json:"kind"`
	ProfileURL    string        `json:"profile_url,omitempty"`
	Term          string        `json:"term,omitempty"`
	TermKind      TermKind      `json:"term_kind,omitempty"`
	MaxPosts      int           `json:"max_posts"`
	CrawlInterval time.Duration `json:"crawl_interval"`
	LastCrawledAt *time.Time    `json:"last_crawled_at,omitempty"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks that the variant payload matches the declared kind.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceKindProfile:
		if s.ProfileURL == "" {
			return eris.New("model: profile source requires profile_url")
		}
	case SourceKindSearch:
		if s.Term == "" {
			return eris.New("model: search source requires term")
		}
		if s.TermKind != TermKindKeyword && s.TermKind != TermKindHashtag {
			return eris.Errorf("model: invalid term kind %q", s.TermKind)
		}
	default:
		return eris.Errorf("model: invalid source kind %q", s.Kind)
	}
	if s.CrawlInterval <= 0 {
		return eris.New("model: crawl_interval must be > 0")
	}
	return nil
}

// Due reports whether the source should be crawled at now. A source that has
// never been crawled is always due.
func (s Source) Due(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.LastCrawledAt == nil {
		return true
	}
	return now.Sub(*s.LastCrawledAt) >= s.CrawlInterval
}

// Target returns the human-readable crawl target for logs and listings.
func (s Source) Target() string {
	if s.Kind == SourceKindProfile {
		return s.ProfileURL
	}
	return FormatSearchTerm(s.Term, s.TermKind)
}

// FormatSearchTerm renders a search term the way the scrape agent expects it:
// hashtags carry a single leading '#', keywords are passed through.
func FormatSearchTerm(term string, kind TermKind) string {
	term = strings.TrimSpace(term)
	if kind == TermKindHashtag && !strings.HasPrefix(term, "#") {
		return "#" + term
	}
	return term
}

// NormalizeTerm case-folds a search term so that "AI", "ai", and "Ai" watch
// the same thing. The leading '#' of a hashtag is stripped before folding.
func NormalizeTerm(term string) string {
	term = strings.TrimSpace(strings.TrimPrefix(term, "#"))
	return cases.Fold().String(term)
}

// Normalize canonicalizes fields that admit equivalent spellings. Stores call
// it before Validate so that two writers of "#AI" and "ai" land on the same
// stored term.
func (s *Source) Normalize() {
	if s.Kind == SourceKindSearch {
		s.Term = NormalizeTerm(s.Term)
	}
}
