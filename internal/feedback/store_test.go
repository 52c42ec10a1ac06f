package feedback_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/advisorsim/internal/feedback"
)

func TestFileStore_SaveAndRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.jsonl")
	fs := feedback.NewFileStore(path)
	ctx := context.Background()

	recs, err := fs.Recent(ctx, "", 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("missing file: got %v, %v", recs, err)
	}

	saved := []feedback.Record{
		feedback.NewRecord("julie", "generate", 6, 1200, false),
		feedback.NewRecord("marc", "voice_only", 0, 800, true),
		feedback.NewRecord("julie", "generate", 8, 1500, true),
	}
	for _, r := range saved {
		if err := fs.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("expected 3 lines, got %d", n)
	}

	recs, err = fs.Recent(ctx, "julie", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != saved[2].ID || recs[1].ID != saved[0].ID {
		t.Errorf("Recent(julie) = %+v, want newest first", recs)
	}
	if !recs[0].WasLive || recs[0].Turns != 8 || recs[0].Path != "generate" {
		t.Errorf("round trip lost fields: %+v", recs[0])
	}

	recs, err = fs.Recent(ctx, "", 1)
	if err != nil || len(recs) != 1 || recs[0].ID != saved[2].ID {
		t.Errorf("Recent limit 1 = %+v, %v", recs, err)
	}
}

func TestFileStore_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := feedback.NewFileStore(path)
	if err := fs.Save(context.Background(), feedback.NewRecord("lucas", "generate", 4, 10, false)); err != nil {
		t.Fatal(err)
	}
	recs, err := fs.Recent(context.Background(), "", 0)
	if err != nil || len(recs) != 1 {
		t.Errorf("Recent = %+v, %v", recs, err)
	}
}

func TestFileStore_UnwritablePath(t *testing.T) {
	t.Parallel()

	fs := feedback.NewFileStore(filepath.Join(t.TempDir(), "missing", "reports.jsonl"))
	if err := fs.Save(context.Background(), feedback.NewRecord("x", "generate", 2, 1, false)); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestNopStore(t *testing.T) {
	t.Parallel()

	var s feedback.Store = feedback.NopStore{}
	if err := s.Save(context.Background(), feedback.Record{}); err != nil {
		t.Error(err)
	}
	if recs, err := s.Recent(context.Background(), "", 5); err != nil || recs != nil {
		t.Errorf("Recent = %v, %v", recs, err)
	}
}
