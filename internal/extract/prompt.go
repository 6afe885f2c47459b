package extract

import (
	"fmt"
	"strings"
)

// systemPromptTemplate instructs the model to emit exactly one JSON object
// matching the signal schema. %s receives the event type list.
const systemPromptTemplate = `You are an event detection specialist analyzing social posts in French or English.
Your task is to identify business events and extract structured information.

Look for:
- Seminars, webinars, conferences
- Trade shows, conventions, exhibitions
- Product launches, announcements
- Company anniversaries, milestones
- Networking events, meetups

Respond with ONLY a single JSON object, no prose and no code fences, with exactly these fields:
{
  "is_event_related": boolean,
  "event_type": one of [%s] or null,
  "event_timing": "past" | "future" | "unknown",
  "event_date": "YYYY-MM-DD" or null,
  "date_is_inferred": boolean,
  "companies_mentioned": [string],
  "people_mentioned": [string],
  "relevance_score": number from 0 to 1,
  "summary": string
}

Write the summary in the same language as the post content.
If no event is detected, set is_event_related to false and give a low relevance_score.`

func buildSystemPrompt(vocab Vocabulary) string {
	quoted := make([]string, len(vocab.EventTypes))
	for i, et := range vocab.EventTypes {
		quoted[i] = fmt.Sprintf("%q", et)
	}
	return fmt.Sprintf(systemPromptTemplate, strings.Join(quoted, ", "))
}

// buildUserMessage frames one post for analysis, including the author when
// known since names help disambiguate organizer vs attendee posts.
func buildUserMessage(content, authorName string) string {
	if authorName != "" && authorName != "Unknown" {
		return fmt.Sprintf("Post by %s:\n\n%s", authorName, content)
	}
	return fmt.Sprintf("Analyze this post for event signals:\n\n%s", content)
}
