// Package content reads the cached generated-content document served to the
// site front end.
package content

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// MaxAge is how long a generated document stays fresh.
const MaxAge = 7 * 24 * time.Hour

// Generated is the known shape of the cached document.
type Generated struct {
	MetaDescription     string            `json:"metaDescription,omitempty"`
	HeroTagline         string            `json:"heroTagline,omitempty"`
	AboutText           string            `json:"aboutText,omitempty"`
	ProjectDescriptions map[string]string `json:"projectDescriptions,omitempty"`
	SkillTags           map[string]string `json:"skillTags,omitempty"`
	LastGenerated       string            `json:"lastGenerated,omitempty"`
}

// Store reads the document at a fixed path.
type Store struct {
	path string
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Raw returns the document as a JSON object, or an empty object when the file
// is missing, unreadable or not an object. Unknown keys are kept.
func (s *Store) Raw() map[string]any {
	doc := map[string]any{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return map[string]any{}
	}
	return doc
}

// Load decodes the document. stale is true when lastGenerated is older than
// MaxAge; a missing or unparseable lastGenerated is never stale.
func (s *Store) Load() (g Generated, stale bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Generated{}, false, err
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return Generated{}, false, fmt.Errorf("decode generated content: %w", err)
	}
	if g.LastGenerated != "" {
		if t, err := time.Parse(time.RFC3339Nano, g.LastGenerated); err == nil {
			stale = s.now().Sub(t) > MaxAge
		}
	}
	return g, stale, nil
}
