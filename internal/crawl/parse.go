package crawl

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-scout/internal/model"
)

const activityMarker = "urn:li:activity:"

// ParsePosts normalizes an agent result object into posts. The payload is
// either a bare array of records or an object wrapping one under "posts" or
// "results"; anything else is an error, so the crawl fails instead of being
// recorded as an empty success. Records without a usable post identifier are
// skipped and counted rather than failing the whole crawl.
func ParsePosts(raw json.RawMessage) ([]model.Post, int, error) {
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, 0, err
	}

	posts := make([]model.Post, 0, len(records))
	skipped := 0
	for _, rec := range records {
		post, err := parseRecord(rec)
		if err != nil {
			skipped++
			zap.L().Debug("crawl: skipping record", zap.Error(err))
			continue
		}
		posts = append(posts, post)
	}
	return posts, skipped, nil
}

func decodeRecords(raw json.RawMessage) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, eris.Wrap(err, "crawl: decode result object")
	}
	for _, key := range []string{"posts", "results"} {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &records); err != nil {
			return nil, eris.Wrapf(err, "crawl: decode %q array", key)
		}
		return records, nil
	}
	return nil, eris.New("crawl: result object has no post array")
}

func parseRecord(rec map[string]any) (model.Post, error) {
	externalID := extractPostID(rec)
	if externalID == "" {
		return model.Post{}, eris.New("crawl: record has no post id")
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return model.Post{}, eris.Wrap(err, "crawl: re-encode record")
	}

	authorName, authorURL := extractAuthor(rec)

	return model.Post{
		ExternalID:   externalID,
		AuthorName:   authorName,
		AuthorURL:    authorURL,
		Content:      stringField(rec, "postContent", "text", "content"),
		PostedAt:     extractPostedAt(rec),
		LikeCount:    intField(rec, "likeCount", "likesCount", "likes"),
		CommentCount: intField(rec, "commentCount", "commentsCount", "comments"),
		RawData:      raw,
	}, nil
}

// extractPostID resolves the platform post identifier. Agents disagree on the
// field name, and some only expose the post URL, which embeds the activity id.
func extractPostID(rec map[string]any) string {
	if id := stringField(rec, "postId", "activityId", "urn", "id"); id != "" {
		return id
	}
	postURL := stringField(rec, "postUrl")
	if postURL == "" {
		return ""
	}
	if idx := strings.Index(postURL, activityMarker); idx >= 0 {
		id := postURL[idx+len(activityMarker):]
		if q := strings.IndexAny(id, "?/"); q >= 0 {
			id = id[:q]
		}
		if id != "" {
			return id
		}
	}
	return postURL
}

// extractAuthor handles both the flat author fields and the nested
// {"name": ..., "profileUrl": ...} shape some agents emit.
func extractAuthor(rec map[string]any) (name, url string) {
	var nested map[string]any
	switch v := rec["author"].(type) {
	case string:
		name = v
	case map[string]any:
		nested = v
	}

	if name == "" {
		name = stringField(rec, "authorName", "profileName")
	}
	if name == "" {
		if nested != nil {
			name, _ = nested["name"].(string)
		}
	}
	if name == "" {
		name = stringField(rec, "posterName")
	}
	if name == "" {
		name = "Unknown"
	}

	url = stringField(rec, "authorUrl", "authorProfileUrl", "profileUrl")
	if url == "" && nested != nil {
		url, _ = nested["profileUrl"].(string)
	}
	if url == "" {
		url = stringField(rec, "posterProfileUrl")
	}
	return name, url
}

// extractPostedAt parses the post timestamp. Numeric values are Unix epochs,
// in milliseconds when large enough; strings are tried against the formats
// the agents have been seen producing.
func extractPostedAt(rec map[string]any) *time.Time {
	for _, key := range []string{"postDate", "postedAt", "date", "timestamp"} {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			n := int64(t)
			if n <= 0 {
				continue
			}
			var ts time.Time
			if n > 1e12 {
				ts = time.UnixMilli(n).UTC()
			} else {
				ts = time.Unix(n, 0).UTC()
			}
			return &ts
		case string:
			if ts, ok := parseTimeString(t); ok {
				return &ts
			}
		}
	}
	return nil
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// stringField returns the first non-empty string value among keys.
func stringField(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := rec[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// intField returns the first numeric value among keys. JSON numbers decode as
// float64; some agents send counts as strings.
func intField(rec map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := rec[key].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}
