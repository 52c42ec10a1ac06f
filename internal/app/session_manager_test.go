package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/MrWong99/advisorsim/internal/app"
	"github.com/MrWong99/advisorsim/internal/conversation"
	"github.com/MrWong99/advisorsim/internal/feedback"
)

func TestSessionManager_StartEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	ctx := context.Background()

	sc, err := sm.Start(ctx, "3")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sc.ID != "julie-maternite-coop" {
		t.Errorf("scenario = %q", sc.ID)
	}
	if !sm.IsActive() {
		t.Error("IsActive() = false after Start")
	}
	if reply, err := sm.Send(ctx, "Bonjour Julie, comment allez-vous ?"); err != nil || reply != "Bonjour." {
		t.Errorf("Send = %q, %v", reply, err)
	}

	out, err := sm.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Path != conversation.PathGenerate {
		t.Errorf("path = %s, want generate", out.Path)
	}
	if sm.IsActive() {
		t.Error("IsActive() = true after End")
	}
	if _, ok := sm.Info(); ok {
		t.Error("Info() reports an active session after End")
	}
	if sm.Mode() != conversation.ModeFeedback {
		t.Errorf("Mode = %s, want feedback", sm.Mode())
	}
}

func TestSessionManager_ExitPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	ctx := context.Background()

	if _, err := sm.Start(ctx, "julie"); err != nil {
		t.Fatal(err)
	}
	out, err := sm.End(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Path != conversation.PathExit || out.Report != "" {
		t.Errorf("outcome = %+v, want silent exit", out)
	}
	if sm.Mode() != conversation.ModeIdle {
		t.Errorf("Mode = %s, want idle", sm.Mode())
	}
	if len(f.llm.Calls()) != 0 {
		t.Error("exit path called the report model")
	}
}

func TestSessionManager_UnknownScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	_, err := f.app.Sessions().Start(context.Background(), "9")
	if !errors.Is(err, app.ErrUnknownScenario) {
		t.Fatalf("err = %v, want ErrUnknownScenario", err)
	}
	if f.app.Sessions().IsActive() {
		t.Error("unknown scenario started a session")
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	if _, err := sm.Start(context.Background(), "julie"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Start(context.Background(), "marc"); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestSessionManager_NotActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	ctx := context.Background()

	if _, err := sm.End(ctx); err == nil {
		t.Error("End without a session succeeded")
	}
	if _, err := sm.Send(ctx, "bonjour"); err == nil {
		t.Error("Send without a session succeeded")
	}
	if _, err := sm.ToggleVoice(ctx); err == nil {
		t.Error("ToggleVoice without a session succeeded")
	}
}

func TestSessionManager_RestartDismissesReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	ctx := context.Background()

	if _, err := sm.Start(ctx, "julie"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Send(ctx, "Bonjour"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.End(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sm.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := sm.Start(ctx, "sophie"); err != nil {
		t.Fatalf("Start after End: %v", err)
	}
	if _, err := sm.Send(ctx, "Bonjour Sophie"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.End(ctx); err != nil {
		t.Fatal(err)
	}
	// Start directly from the feedback screen.
	if _, err := sm.Start(ctx, "marc"); err != nil {
		t.Fatalf("Start from feedback: %v", err)
	}
}

func TestSessionManager_Reset_WhileActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	if _, err := sm.Start(context.Background(), "julie"); err != nil {
		t.Fatal(err)
	}
	if err := sm.Reset(); err == nil {
		t.Error("Reset during a session succeeded")
	}
}

func TestSessionManager_Info(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	if _, ok := sm.Info(); ok {
		t.Fatal("Info() ok before Start")
	}
	if _, err := sm.Start(context.Background(), "julie"); err != nil {
		t.Fatal(err)
	}
	info, ok := sm.Info()
	if !ok {
		t.Fatal("Info() not ok after Start")
	}
	if info.ScenarioID != "julie-maternite-coop" || info.Title == "" || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}
	re := regexp.MustCompile(`^session-julie-maternite-coop-\d{8}T\d{6}Z$`)
	if !re.MatchString(info.SessionID) {
		t.Errorf("SessionID = %q does not match %s", info.SessionID, re)
	}
}

func TestSessionManager_History(t *testing.T) {
	t.Parallel()

	store := feedback.NewFileStore(filepath.Join(t.TempDir(), "reports.jsonl"))
	f := newFixture(t, testConfig(), app.WithStore(store))
	sm := f.app.Sessions()
	ctx := context.Background()

	if _, err := sm.Start(ctx, "julie"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Send(ctx, "Bonjour"); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.End(ctx); err != nil {
		t.Fatal(err)
	}

	recs, err := sm.History(ctx, "", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].ScenarioID != "julie-maternite-coop" || recs[0].Path != "generate" || recs[0].Turns != 3 {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	sm := f.app.Sessions()
	if _, err := sm.Start(context.Background(), "julie"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = sm.IsActive()
			_, _ = sm.Info()
			_ = sm.Mode()
			_ = f.app.Status()
		})
	}
	wg.Wait()
}
