package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tunegen/tunegen/pkg/generation"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&Config{
		BaseURL: srv.URL,
		Wait:    time.Millisecond,
	})
}

func TestGenerate(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		decodeJSON(t, r, &gotBody)
		w.Write([]byte(`{"task_id": "abc123"}`))
	}))

	req, err := generation.Build(&generation.FormState{
		Mode:    generation.Text2Music,
		Caption: "synthwave",
	})
	if err != nil {
		t.Fatalf("Build() err = %v; want nil", err)
	}
	task, err := client.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() err = %v; want nil", err)
	}
	if task.ID != "abc123" {
		t.Fatalf("Generate() id = %q; want abc123", task.ID)
	}
	if gotPath != "/generate" {
		t.Fatalf("Generate() path = %q; want /generate", gotPath)
	}
	if gotBody["task"] != "text2music" {
		t.Fatalf("Generate() task = %v; want text2music", gotBody["task"])
	}
	if _, ok := gotBody["src_audio"]; ok {
		t.Fatal("Generate() payload contains src_audio for text2music")
	}
}

func TestGenerateRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "out of memory"}`))
	}))
	req, _ := generation.Build(&generation.FormState{Mode: generation.Text2Music, Caption: "x"})
	if _, err := client.Generate(context.Background(), req); err == nil {
		t.Fatal("Generate() err = nil; want rejection")
	}
}

func TestCheckBaseModel(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{
			name: "installed",
			body: `{"models": [{"name": "base-v1", "family": "Base", "installed": true}]}`,
		},
		{
			name:    "not installed",
			body:    `{"models": [{"name": "base-v1", "family": "Base", "installed": false}]}`,
			wantErr: ErrModelMissing,
		},
		{
			name:    "missing family",
			body:    `{"models": [{"name": "turbo-v2", "family": "Turbo", "installed": true}]}`,
			wantErr: ErrModelMissing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			err := client.CheckBaseModel(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CheckBaseModel() err = %v; want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckBaseModel() err = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDoRetriesOnServerBusy(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"models": []}`))
	}))
	if _, err := client.Models(context.Background()); err != nil {
		t.Fatalf("Models() err = %v; want nil after retry", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d; want 2", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	if _, err := client.Models(context.Background()); err == nil {
		t.Fatal("Models() err = nil; want error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestTrainSubmitsMultipart(t *testing.T) {
	var gotType string
	var gotName string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("content-type")
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			gotName = r.FormValue("experiment_name")
		}
		w.Write([]byte(`{"task_id": "train-1"}`))
	}))
	id, err := client.Train(context.Background(), &TrainInput{
		Dataset:      "/data/stems",
		Experiment:   "lofi-v2",
		Epochs:       10,
		MaxSteps:     2000,
		LearningRate: 1e-4,
		BatchSize:    2,
		Precision:    "bf16",
		SaveEvery:    500,
	})
	if err != nil {
		t.Fatalf("Train() err = %v; want nil", err)
	}
	if id != "train-1" {
		t.Fatalf("Train() id = %q; want train-1", id)
	}
	if gotName != "lofi-v2" {
		t.Fatalf("experiment_name = %q; want lofi-v2", gotName)
	}
	if !strings.HasPrefix(gotType, "multipart/form-data;") {
		t.Fatalf("content-type = %q; want multipart", gotType)
	}
}

func TestDoRetriesMultipartBody(t *testing.T) {
	var bodySizes []int
	var gotName string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("couldn't read request body: %v", err)
		}
		bodySizes = append(bodySizes, len(b))
		if len(bodySizes) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		req, err := http.NewRequest(r.Method, r.URL.String(), bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		req.Header = r.Header
		if err := req.ParseMultipartForm(1 << 20); err == nil {
			gotName = req.FormValue("experiment_name")
		}
		w.Write([]byte(`{"task_id": "train-1"}`))
	}))
	id, err := client.Train(context.Background(), &TrainInput{
		Dataset:    "/data/stems",
		Experiment: "lofi-v2",
		Epochs:     10,
		BatchSize:  2,
		Precision:  "bf16",
	})
	if err != nil {
		t.Fatalf("Train() err = %v; want nil after retry", err)
	}
	if id != "train-1" {
		t.Fatalf("Train() id = %q; want train-1", id)
	}
	if len(bodySizes) != 2 {
		t.Fatalf("attempts = %d; want 2", len(bodySizes))
	}
	if bodySizes[0] == 0 || bodySizes[1] != bodySizes[0] {
		t.Fatalf("body sizes = %v; want the retry to resend the full body", bodySizes)
	}
	if gotName != "lofi-v2" {
		t.Fatalf("experiment_name = %q; want lofi-v2", gotName)
	}
}

func decodeJSON(t *testing.T, r *http.Request, out any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("couldn't decode request body: %v", err)
	}
}
