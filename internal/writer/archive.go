package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/lamim/examforge/pkg/models"
)

// ItemArchive appends every accepted item to the session's items.jsonl.
// The database stays authoritative; the archive is an audit trail per run.
type ItemArchive struct {
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewItemArchive opens the archive for appending
func NewItemArchive(sessionMgr *SessionManager, logger *slog.Logger) (*ItemArchive, error) {
	path := sessionMgr.GetItemsPath()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open item archive: %w", err)
	}

	logger.Info("Opened item archive", "path", path)

	return &ItemArchive{
		file:   file,
		logger: logger,
	}, nil
}

// WriteItem writes a single item as one JSON line
func (a *ItemArchive) WriteItem(item models.PersistedItem) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write item: %w", err)
	}
	a.count++

	return nil
}

// Count returns the number of items written through this archive
func (a *ItemArchive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Close closes the archive file
func (a *ItemArchive) Close() error {
	if err := a.file.Sync(); err != nil {
		a.logger.Warn("Failed to sync item archive", "error", err)
	}

	if err := a.file.Close(); err != nil {
		return fmt.Errorf("failed to close item archive: %w", err)
	}

	a.logger.Info("Closed item archive", "items", a.count)
	return nil
}
