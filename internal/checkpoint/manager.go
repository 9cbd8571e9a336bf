package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/examforge/internal/config"
	"github.com/lamim/examforge/pkg/models"
)

const CheckpointFilename = "checkpoint.json"

// pendingWrites bounds the snapshots queued for the background writer
const pendingWrites = 10

type saveMode int

const (
	saveNone saveMode = iota
	saveQueued
	saveNow
)

// Manager tracks the progress of one generation session and persists it
// as checkpoint.json in the session directory. Per-item updates are written
// by a background goroutine; phase changes are written synchronously.
type Manager struct {
	sessionDir  string
	logger      *slog.Logger
	interval    int
	enabled     bool
	itemCounter int

	// mu guards checkpoint, itemCounter, seq and closed
	mu         sync.RWMutex
	checkpoint *models.Checkpoint
	seq        uint64
	closed     bool

	queue chan snapshot
	done  chan struct{}

	diskMu  sync.Mutex
	written uint64 // seq of the snapshot on disk

	errMu    sync.Mutex
	writeErr error
}

// NewManager starts a checkpoint for a fresh session
func NewManager(sessionDir string, cfg *config.Config, logger *slog.Logger) *Manager {
	return newManager(sessionDir, &models.Checkpoint{
		SessionID:    uuid.New().String(),
		CreatedAt:    time.Now(),
		CurrentPhase: models.PhasePlanning,
		CourseID:     cfg.Generation.CourseID,
		ItemType:     cfg.ItemType(),
		TargetTotal:  cfg.Generation.TargetTotal,
		ConfigHash:   computeConfigHash(cfg),
	}, cfg, logger)
}

// NewManagerFromCheckpoint continues a loaded checkpoint
func NewManagerFromCheckpoint(sessionDir string, cp *models.Checkpoint, cfg *config.Config, logger *slog.Logger) *Manager {
	return newManager(sessionDir, cp, cfg, logger)
}

func newManager(sessionDir string, cp *models.Checkpoint, cfg *config.Config, logger *slog.Logger) *Manager {
	m := &Manager{
		sessionDir: sessionDir,
		checkpoint: cp,
		logger:     logger.With("component", "checkpoint"),
		interval:   max(cfg.Generation.CheckpointInterval, 1),
		enabled:    cfg.Generation.EnableCheckpointing,
	}
	if m.enabled {
		m.queue = make(chan snapshot, pendingWrites)
		m.done = make(chan struct{})
		go m.writer()
	}
	return m
}

// SessionID returns the run identifier
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoint.SessionID
}

// writer drains the queue until Close closes it
func (m *Manager) writer() {
	defer close(m.done)
	for snap := range m.queue {
		if err := m.write(snap); err != nil {
			m.errMu.Lock()
			m.writeErr = err
			m.errMu.Unlock()
			m.logger.Error("Failed to write checkpoint", "error", err)
		}
	}
}

// write replaces checkpoint.json through a temp file and rename. Snapshots
// older than the one on disk are dropped.
func (m *Manager) write(snap snapshot) error {
	m.diskMu.Lock()
	defer m.diskMu.Unlock()
	if snap.seq <= m.written {
		return nil
	}

	data, err := json.MarshalIndent(snap.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(m.sessionDir, CheckpointFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	m.written = snap.seq
	m.logger.Debug("Checkpoint saved", "path", path, "phase", snap.cp.CurrentPhase)
	return nil
}

type snapshot struct {
	seq uint64
	cp  *models.Checkpoint
}

// takeSnapshot stamps LastSavedAt and copies the checkpoint; callers hold mu
func (m *Manager) takeSnapshot() snapshot {
	m.seq++
	m.checkpoint.LastSavedAt = time.Now()
	return snapshot{seq: m.seq, cp: m.copyCheckpoint()}
}

func (m *Manager) copyCheckpoint() *models.Checkpoint {
	cp := *m.checkpoint
	cp.Topics = append([]models.TopicProgress(nil), m.checkpoint.Topics...)
	return &cp
}

// update applies fn under the lock and persists according to the mode it
// returns. Queued saves fall back to a synchronous write when the queue is
// full or closed.
func (m *Manager) update(fn func(cp *models.Checkpoint) saveMode) error {
	m.mu.Lock()
	mode := fn(m.checkpoint)
	if !m.enabled || mode == saveNone {
		m.mu.Unlock()
		return nil
	}
	snap := m.takeSnapshot()
	if mode == saveQueued && !m.closed {
		select {
		case m.queue <- snap:
			m.mu.Unlock()
			return nil
		default:
			m.logger.Warn("Checkpoint queue full, writing synchronously")
		}
	}
	m.mu.Unlock()
	return m.write(snap)
}

// Save queues the current state for the background writer
func (m *Manager) Save() error {
	return m.update(func(*models.Checkpoint) saveMode { return saveQueued })
}

// SaveSync writes the current state before returning
func (m *Manager) SaveSync() error {
	return m.update(func(*models.Checkpoint) saveMode { return saveNow })
}

// Load reads the checkpoint of a session directory
func Load(sessionDir string, logger *slog.Logger) (*models.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, CheckpointFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	logger.Info("Checkpoint loaded",
		"session_id", cp.SessionID,
		"phase", cp.CurrentPhase,
		"topics", len(cp.Topics),
		"accepted", GetCompletedCount(&cp))
	return &cp, nil
}

// MarkPlanned stores the quota plan and enters the generating phase.
// Topics carried over from a resumed run keep their counters.
func (m *Manager) MarkPlanned(mainTotal, zeroWeightExtra int, targets []models.GenerationTarget) error {
	return m.update(func(cp *models.Checkpoint) saveMode {
		cp.MainTotal = mainTotal
		cp.ZeroWeightExtra = zeroWeightExtra
		for _, t := range targets {
			if tp := cp.Topic(t.TopicID); tp != nil {
				tp.Quota, tp.Existing = t.Quota, t.Existing
				continue
			}
			cp.Topics = append(cp.Topics, models.TopicProgress{
				TopicID:   t.TopicID,
				TopicName: t.TopicName,
				Quota:     t.Quota,
				Existing:  t.Existing,
			})
		}
		cp.CurrentPhase = models.PhaseGenerating
		return saveNow
	})
}

// MarkItem counts one finished item of a topic: accepted, or skipped after
// its attempts ran out. The state is written every interval items.
func (m *Manager) MarkItem(topicID int64, accepted bool, stats *models.SessionStats) error {
	return m.update(func(cp *models.Checkpoint) saveMode {
		if tp := cp.Topic(topicID); tp != nil {
			if accepted {
				tp.Accepted++
			} else {
				tp.Skipped++
			}
		}
		cp.Stats = *stats
		m.itemCounter++
		if m.itemCounter < m.interval {
			return saveNone
		}
		m.itemCounter = 0
		return saveQueued
	})
}

// MarkTopicDone flags a topic as finished
func (m *Manager) MarkTopicDone(topicID int64, stats *models.SessionStats) error {
	return m.update(func(cp *models.Checkpoint) saveMode {
		if tp := cp.Topic(topicID); tp != nil {
			tp.Done = true
		}
		cp.Stats = *stats
		return saveQueued
	})
}

// MarkStopped records a cooperative stop; the session stays resumable
func (m *Manager) MarkStopped(stats *models.SessionStats) error {
	return m.setPhase(models.PhaseStopped, stats)
}

// MarkComplete records the end of the run
func (m *Manager) MarkComplete(stats *models.SessionStats) error {
	return m.setPhase(models.PhaseComplete, stats)
}

func (m *Manager) setPhase(phase models.CheckpointPhase, stats *models.SessionStats) error {
	return m.update(func(cp *models.Checkpoint) saveMode {
		cp.CurrentPhase = phase
		cp.Stats = *stats
		return saveNow
	})
}

// GetCheckpoint returns a copy of the current state
func (m *Manager) GetCheckpoint() *models.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyCheckpoint()
}

// Close flushes queued writes and reports the last background write error
func (m *Manager) Close() error {
	if !m.enabled {
		return nil
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	<-m.done

	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.writeErr
}

// computeConfigHash covers the settings that decide the quota plan
func computeConfigHash(cfg *config.Config) string {
	key := fmt.Sprintf("%s:%s:%d:%d",
		cfg.Generation.CourseID,
		cfg.ItemType(),
		cfg.Generation.TargetTotal,
		cfg.Generation.ZeroWeightThreshold)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
