package generate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// template is one row of a batch input file. Empty fields fall back to the
// values given on the command line.
type template struct {
	Mode         string `json:"mode,omitempty" csv:"mode"`
	Title        string `json:"title,omitempty" csv:"title"`
	Caption      string `json:"caption,omitempty" csv:"caption"`
	Lyrics       string `json:"lyrics,omitempty" csv:"lyrics"`
	Instrumental bool   `json:"instrumental,omitempty" csv:"instrumental"`
	SourceAudio  string `json:"source_audio,omitempty" csv:"source_audio"`
	Count        int    `json:"count,omitempty" csv:"count"`
}

func (t template) String() string {
	return fmt.Sprintf("{%s, t: %s, c: %s}", t.Mode, t.Title, t.Caption)
}

func loadTemplates(path string) ([]*template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read input file: %w", err)
	}
	ext := filepath.Ext(path)
	var ts []*template
	switch ext {
	case ".json":
		if err := json.Unmarshal(b, &ts); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal templates: %w", err)
		}
	case ".csv":
		if err := gocsv.UnmarshalBytes(b, &ts); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal templates: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported input format: %s", ext)
	}
	return ts, nil
}
