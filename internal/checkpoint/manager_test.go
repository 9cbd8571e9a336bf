package checkpoint

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/pkg/models"
)

func testConfig(enabled bool, interval int) *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{
			CourseID:            "GATE-CSE",
			ItemType:            "MCQ",
			TargetTotal:         30,
			ZeroWeightThreshold: 500,
			EnableCheckpointing: enabled,
			CheckpointInterval:  interval,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTargets() []models.GenerationTarget {
	return []models.GenerationTarget{
		{TopicID: 1, TopicName: "Algorithms", Weight: 0.5, Quota: 15, Existing: 2, Remaining: 13},
		{TopicID: 2, TopicName: "Databases", Weight: 0.3, Quota: 9, Remaining: 9},
	}
}

func TestNewManager(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir, testConfig(true, 10), testLogger())

	if mgr == nil {
		t.Fatal("NewManager returned nil")
		return
	}

	if mgr.sessionDir != tempDir {
		t.Errorf("Expected sessionDir %s, got %s", tempDir, mgr.sessionDir)
	}

	if mgr.interval != 10 {
		t.Errorf("Expected interval 10, got %d", mgr.interval)
	}

	if !mgr.enabled {
		t.Error("Expected enabled to be true")
	}

	cp := mgr.GetCheckpoint()
	if cp.SessionID == "" || cp.SessionID != mgr.SessionID() {
		t.Errorf("unexpected session id %q", cp.SessionID)
	}
	if cp.CourseID != "GATE-CSE" || cp.ItemType != models.ItemSingleSelect || cp.TargetTotal != 30 {
		t.Errorf("run parameters not captured: %+v", cp)
	}
	if cp.CurrentPhase != models.PhasePlanning {
		t.Errorf("Expected phase %s, got %s", models.PhasePlanning, cp.CurrentPhase)
	}

	if err := mgr.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	logger := testLogger()
	mgr := NewManager(tempDir, testConfig(true, 1), logger)

	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatalf("MarkPlanned failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	loaded, err := Load(tempDir, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.CurrentPhase != models.PhaseGenerating {
		t.Errorf("Expected phase %s, got %s", models.PhaseGenerating, loaded.CurrentPhase)
	}
	if loaded.MainTotal != 24 {
		t.Errorf("Expected MainTotal 24, got %d", loaded.MainTotal)
	}
	if len(loaded.Topics) != 2 {
		t.Fatalf("Expected 2 topics, got %d", len(loaded.Topics))
	}
	if tp := loaded.Topic(1); tp == nil || tp.Quota != 15 || tp.Existing != 2 {
		t.Errorf("topic 1 progress = %+v", tp)
	}
	if loaded.LastSavedAt.IsZero() {
		t.Error("LastSavedAt not set")
	}
}

func TestMarkItem(t *testing.T) {
	tempDir := t.TempDir()
	logger := testLogger()
	mgr := NewManager(tempDir, testConfig(true, 2), logger)

	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatal(err)
	}

	stats := &models.SessionStats{ItemsTarget: 22}
	stats.AcceptedCount = 1
	if err := mgr.MarkItem(1, true, stats); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}
	stats.SkippedCount = 1
	if err := mgr.MarkItem(1, false, stats); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}
	stats.AcceptedCount = 2
	if err := mgr.MarkItem(2, true, stats); err != nil {
		t.Fatalf("MarkItem failed: %v", err)
	}
	if err := mgr.MarkTopicDone(1, stats); err != nil {
		t.Fatalf("MarkTopicDone failed: %v", err)
	}
	if err := mgr.MarkStopped(stats); err != nil {
		t.Fatalf("MarkStopped failed: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	loaded, err := Load(tempDir, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t1 := loaded.Topic(1)
	if t1 == nil || t1.Accepted != 1 || t1.Skipped != 1 || !t1.Done {
		t.Errorf("topic 1 progress = %+v", t1)
	}
	t2 := loaded.Topic(2)
	if t2 == nil || t2.Accepted != 1 || t2.Done {
		t.Errorf("topic 2 progress = %+v", t2)
	}
	if loaded.CurrentPhase != models.PhaseStopped {
		t.Errorf("Expected phase %s, got %s", models.PhaseStopped, loaded.CurrentPhase)
	}
	if loaded.Stats.AcceptedCount != 2 {
		t.Errorf("Expected AcceptedCount 2, got %d", loaded.Stats.AcceptedCount)
	}
}

func TestAsyncWriteBuffer(t *testing.T) {
	tempDir := t.TempDir()
	logger := testLogger()
	mgr := NewManager(tempDir, testConfig(true, 5), logger)

	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatal(err)
	}

	stats := &models.SessionStats{ItemsTarget: 25}

	// 25 items trigger 5 async saves
	for i := 1; i <= 25; i++ {
		stats.AcceptedCount = i
		if err := mgr.MarkItem(1, true, stats); err != nil {
			t.Fatalf("MarkItem(%d) failed: %v", i, err)
		}
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	loaded, err := Load(tempDir, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := loaded.Topic(1).Accepted; got != 25 {
		t.Errorf("Expected 25 accepted, got %d", got)
	}
	if loaded.Stats.AcceptedCount != 25 {
		t.Errorf("Expected AcceptedCount 25, got %d", loaded.Stats.AcceptedCount)
	}
}

func TestResumeKeepsCounters(t *testing.T) {
	tempDir := t.TempDir()
	logger := testLogger()
	cfg := testConfig(true, 1)

	mgr := NewManager(tempDir, cfg, logger)
	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkItem(1, true, &models.SessionStats{AcceptedCount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}

	cp, err := Load(tempDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	resumed := NewManagerFromCheckpoint(tempDir, cp, cfg, logger)
	defer resumed.Close()

	replanned := testTargets()
	replanned[0].Existing = 3
	if err := resumed.MarkPlanned(24, 0, replanned); err != nil {
		t.Fatal(err)
	}

	got := resumed.GetCheckpoint()
	if got.SessionID != cp.SessionID {
		t.Errorf("session id changed on resume: %s -> %s", cp.SessionID, got.SessionID)
	}
	if len(got.Topics) != 2 {
		t.Fatalf("topics duplicated on resume: %d", len(got.Topics))
	}
	if tp := got.Topic(1); tp.Accepted != 1 || tp.Existing != 3 {
		t.Errorf("topic 1 after resume = %+v", tp)
	}
}

func TestCheckpointNotEnabledNoFiles(t *testing.T) {
	tempDir := t.TempDir()
	mgr := NewManager(tempDir, testConfig(false, 10), testLogger())
	defer func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	}()

	if err := mgr.Save(); err != nil {
		t.Fatalf("Save() should not error when disabled: %v", err)
	}
	if err := mgr.MarkPlanned(1, 0, testTargets()); err != nil {
		t.Fatalf("MarkPlanned() should not error when disabled: %v", err)
	}

	checkpointPath := filepath.Join(tempDir, CheckpointFilename)
	if _, err := os.Stat(checkpointPath); !os.IsNotExist(err) {
		t.Error("Checkpoint file should not exist when checkpointing is disabled")
	}
}

func TestConfigHashValidation(t *testing.T) {
	cfg1 := testConfig(false, 10)
	cfg2 := testConfig(false, 10)
	cfg2.Generation.TargetTotal = 31

	if computeConfigHash(cfg1) == computeConfigHash(cfg2) {
		t.Error("Different configs should produce different hashes")
	}

	cfg3 := testConfig(true, 3)
	if computeConfigHash(cfg1) != computeConfigHash(cfg3) {
		t.Error("Checkpoint settings should not change the hash")
	}
}

func TestStaleQueuedSnapshotDoesNotOverwrite(t *testing.T) {
	tempDir := t.TempDir()
	logger := testLogger()
	mgr := NewManager(tempDir, testConfig(true, 1), logger)

	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatal(err)
	}
	stats := &models.SessionStats{}
	for i := 0; i < 5; i++ {
		if err := mgr.MarkItem(2, true, stats); err != nil {
			t.Fatal(err)
		}
	}
	if err := mgr.MarkComplete(stats); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}
	// saves after Close are written synchronously
	if err := mgr.Save(); err != nil {
		t.Fatalf("Save() after Close failed: %v", err)
	}

	loaded, err := Load(tempDir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.CurrentPhase != models.PhaseComplete {
		t.Errorf("phase = %s, want %s", loaded.CurrentPhase, models.PhaseComplete)
	}
	if got := loaded.Topic(2).Accepted; got != 5 {
		t.Errorf("accepted = %d, want 5", got)
	}
}

func TestDisabledManagerStillTracksProgress(t *testing.T) {
	mgr := NewManager(t.TempDir(), testConfig(false, 1), testLogger())
	if err := mgr.MarkPlanned(24, 0, testTargets()); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkItem(1, false, &models.SessionStats{SkippedCount: 1}); err != nil {
		t.Fatal(err)
	}
	cp := mgr.GetCheckpoint()
	if cp.CurrentPhase != models.PhaseGenerating || cp.Topic(1).Skipped != 1 {
		t.Errorf("in-memory state = %+v", cp)
	}
}
