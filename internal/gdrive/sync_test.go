package gdrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

func TestUploadCreatesThenUpdates(t *testing.T) {
	var mu sync.Mutex
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "file-1"}`))
	}))
	defer server.Close()

	u, err := newUploader(context.Background(), "folder-1",
		option.WithEndpoint(server.URL+"/drive/v3/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("newUploader failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(path, []byte("[10:00:00] hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		id, err := u.Upload(context.Background(), path, "transcript-bio")
		if err != nil {
			t.Fatalf("Upload %d failed: %v", i, err)
		}
		if id != "file-1" {
			t.Fatalf("expected file-1, got %q", id)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodPatch {
		t.Fatalf("expected create then update, got %v", methods)
	}
}

func TestUploadMissingFile(t *testing.T) {
	u := &Uploader{fileIDs: map[string]string{}}
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "x")
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewUploaderMissingCredentials(t *testing.T) {
	_, err := NewUploader(context.Background(), filepath.Join(t.TempDir(), "nope.json"), "folder")
	if err == nil || !strings.Contains(err.Error(), "read credentials") {
		t.Fatalf("expected read credentials error, got %v", err)
	}
}
