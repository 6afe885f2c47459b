package extract

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/signal-scout/internal/model"
)

// Vocabulary is the closed set of event categories the extractor may assign.
// Categories outside the set are coerced to "other".
type Vocabulary struct {
	EventTypes []string `yaml:"event_types"`
}

// DefaultVocabulary returns the built-in event type set.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{EventTypes: slices.Clone(model.DefaultEventTypes)}
}

// LoadVocabulary reads a vocabulary file and merges it over the defaults.
// Entries from the file extend the built-in set; "other" is always present.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	if path == "" {
		return vocab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, eris.Wrapf(err, "extract: read vocabulary %s", path)
	}

	var file Vocabulary
	if err := yaml.Unmarshal(data, &file); err != nil {
		return vocab, eris.Wrapf(err, "extract: parse vocabulary %s", path)
	}

	for _, et := range file.EventTypes {
		et = strings.ToLower(strings.TrimSpace(et))
		if et != "" && !vocab.Contains(et) {
			vocab.EventTypes = append(vocab.EventTypes, et)
		}
	}
	return vocab, nil
}

// Contains reports whether et is a known event type.
func (v Vocabulary) Contains(et string) bool {
	return slices.Contains(v.EventTypes, et)
}

// Coerce maps an arbitrary category string into the vocabulary: known types
// pass through lowercased, anything else becomes "other", empty stays empty.
func (v Vocabulary) Coerce(et string) string {
	et = strings.ToLower(strings.TrimSpace(et))
	if et == "" {
		return ""
	}
	if v.Contains(et) {
		return et
	}
	return "other"
}
