package generate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tunegen/tunegen/pkg/generation"
	"github.com/tunegen/tunegen/pkg/storage"
)

func TestFormMergesTemplate(t *testing.T) {
	cfg := &Config{
		Mode:    "text2music",
		Title:   "Default title",
		Caption: "ambient, slow",
		Count:   2,
	}
	tests := []struct {
		name        string
		tmpl        *template
		wantMode    generation.Mode
		wantTitle   string
		wantCaption string
		wantCount   int
	}{
		{
			name:        "empty template keeps defaults",
			tmpl:        &template{},
			wantMode:    generation.Text2Music,
			wantTitle:   "Default title",
			wantCaption: "ambient, slow",
			wantCount:   2,
		},
		{
			name: "template overrides fields",
			tmpl: &template{
				Mode:    "cover",
				Title:   "Row title",
				Caption: "jazz trio",
				Count:   5,
			},
			wantMode:    generation.Cover,
			wantTitle:   "Row title",
			wantCaption: "jazz trio",
			wantCount:   5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := cfg.form(tt.tmpl)
			if f.Mode != tt.wantMode {
				t.Errorf("mode: got %q, want %q", f.Mode, tt.wantMode)
			}
			if f.Title != tt.wantTitle {
				t.Errorf("title: got %q, want %q", f.Title, tt.wantTitle)
			}
			if f.Caption != tt.wantCaption {
				t.Errorf("caption: got %q, want %q", f.Caption, tt.wantCaption)
			}
			if f.BulkCount != tt.wantCount {
				t.Errorf("count: got %d, want %d", f.BulkCount, tt.wantCount)
			}
		})
	}
}

func TestRunConcurrentSubmissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.New("sqlite", dbPath, false)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var submissions int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		submissions++
		n := submissions
		mu.Unlock()
		fmt.Fprintf(w, `{"task_id": "t%d"}`, n)
	}))
	t.Cleanup(srv.Close)

	cfg := &Config{
		DBType:      "sqlite",
		DBConn:      dbPath,
		Concurrency: 3,
		Limit:       6,
		StudioURL:   srv.URL,
		Mode:        "text2music",
		Caption:     "ambient",
		Duration:    -1,
		RandomSeed:  true,
		BatchSize:   1,
		Count:       1,
		Format:      "mp3",
	}
	if err := Run(ctx, cfg); err != nil {
		t.Fatalf("Run() err = %v; want nil", err)
	}

	mu.Lock()
	got := submissions
	mu.Unlock()
	if got != 6 {
		t.Fatalf("submissions = %d; want 6", got)
	}
	gens, err := store.ListGenerations(ctx, 1, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(gens) != 6 {
		t.Fatalf("stored generations = %d; want 6", len(gens))
	}
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "batch.json")
	jsonData := `[{"mode":"text2music","caption":"lofi beats","count":3},{"title":"Second"}]`
	if err := os.WriteFile(jsonPath, []byte(jsonData), 0644); err != nil {
		t.Fatal(err)
	}
	ts, err := loadTemplates(jsonPath)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(ts) != 2 {
		t.Fatalf("json: got %d templates, want 2", len(ts))
	}
	if ts[0].Caption != "lofi beats" || ts[0].Count != 3 {
		t.Errorf("json: unexpected first template %+v", ts[0])
	}

	csvPath := filepath.Join(dir, "batch.csv")
	csvData := "mode,title,caption,lyrics,instrumental,source_audio,count\ncover,My song,rock,,true,song.mp3,1\n"
	if err := os.WriteFile(csvPath, []byte(csvData), 0644); err != nil {
		t.Fatal(err)
	}
	ts, err = loadTemplates(csvPath)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(ts) != 1 {
		t.Fatalf("csv: got %d templates, want 1", len(ts))
	}
	if ts[0].Mode != "cover" || ts[0].SourceAudio != "song.mp3" || !ts[0].Instrumental {
		t.Errorf("csv: unexpected template %+v", ts[0])
	}

	if _, err := loadTemplates(filepath.Join(dir, "batch.txt")); err == nil {
		t.Error("txt: expected error for unsupported format")
	}
}
