package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// SessionManager manages session directories and files
type SessionManager struct {
	outputDir  string
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a new session directory under outputDir, or reopens
// an existing one when resumeFromSession names it
func NewSessionManager(outputDir string, logger *slog.Logger, resumeFromSession string) (*SessionManager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeFromSession != "" {
		if err := ValidateSessionPath(outputDir, resumeFromSession); err != nil {
			return nil, err
		}
		sessionDir = filepath.Join(outputDir, resumeFromSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Resuming from existing session", "path", sessionDir)
	} else {
		sessionDir = filepath.Join(outputDir, SessionName(time.Now()))

		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}

		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		outputDir:  outputDir,
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetItemsPath returns the path of the accepted-item archive
func (sm *SessionManager) GetItemsPath() string {
	return filepath.Join(sm.sessionDir, "items.jsonl")
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetConfigBackupPath returns the full path to the config backup
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.sessionDir, "config.toml.bak")
}

// SetLogger replaces the bootstrap logger once the session logger exists
func (sm *SessionManager) SetLogger(logger *slog.Logger) {
	sm.logger = logger
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// ListSessions returns the session directory names under outputDir, oldest first
func ListSessions(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var sessions []string
	for _, e := range entries {
		if e.IsDir() && sessionNameRegex.MatchString(e.Name()) {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}
