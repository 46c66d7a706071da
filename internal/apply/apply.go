// Package apply writes validated patches to the target tree and
// restores originals on rollback. Every apply takes a backup first;
// rollback restores the backed-up bytes exactly, never a re-derived
// version.
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Applier performs file writes under a root directory. Paths are always
// relative to the root; anything escaping it is rejected.
type Applier struct {
	root      string
	backupDir string
	logger    *slog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex  // per relative file path
	applied map[string]appliedPatch // trace id -> active patch
}

type appliedPatch struct {
	file       string
	backupPath string
}

// New creates an Applier rooted at dir. Backups live in a temp
// directory that outlives individual traces.
func New(root string, logger *slog.Logger) (*Applier, error) {
	backupDir, err := os.MkdirTemp("", "selfheal_backup_")
	if err != nil {
		return nil, fmt.Errorf("apply: create backup dir: %w", err)
	}
	return &Applier{
		root:      root,
		backupDir: backupDir,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		applied:   make(map[string]appliedPatch),
	}, nil
}

// fileLock returns the mutex serializing writes to one file.
func (a *Applier) fileLock(rel string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[rel]
	if !ok {
		l = &sync.Mutex{}
		a.locks[rel] = l
	}
	return l
}

// resolve maps a relative path into the root, rejecting escapes.
func (a *Applier) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("apply: path %q escapes target root", rel)
	}
	return filepath.Join(a.root, clean), nil
}

// ReadFile returns the current content of a target file.
func (a *Applier) ReadFile(rel string) (string, error) {
	path, err := a.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("apply: read %s: %w", rel, err)
	}
	return string(data), nil
}

// Apply backs up the current file and writes the updated code. Returns
// the number of bytes written. The backup is kept until Rollback or
// Commit for the trace.
func (a *Applier) Apply(ctx context.Context, traceID string, change *model.CodeChange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lock := a.fileLock(change.File)
	lock.Lock()
	defer lock.Unlock()

	path, err := a.resolve(change.File)
	if err != nil {
		return 0, err
	}

	current, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("apply: read %s: %w", change.File, err)
	}
	if string(current) != change.OriginalCode {
		return 0, fmt.Errorf("apply: %s changed since patch was generated", change.File)
	}

	backupPath := filepath.Join(a.backupDir,
		traceID+"_"+filepath.Base(change.File)+".backup")
	if err := os.WriteFile(backupPath, current, 0o600); err != nil {
		return 0, fmt.Errorf("apply: write backup: %w", err)
	}

	if err := os.WriteFile(path, []byte(change.UpdatedCode), 0o644); err != nil {
		os.Remove(backupPath)
		return 0, fmt.Errorf("apply: write %s: %w", change.File, err)
	}

	a.mu.Lock()
	a.applied[traceID] = appliedPatch{file: change.File, backupPath: backupPath}
	a.mu.Unlock()

	a.logger.Info("apply: patch written",
		"trace_id", traceID, "file", change.File, "bytes", len(change.UpdatedCode))
	return len(change.UpdatedCode), nil
}

// HasApplied reports whether the trace has a live, unreverted patch.
func (a *Applier) HasApplied(traceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.applied[traceID]
	return ok
}

// Rollback restores the backed-up original for the trace byte for
// byte. Rolling back a trace with no applied patch is a no-op.
func (a *Applier) Rollback(ctx context.Context, traceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	p, ok := a.applied[traceID]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	lock := a.fileLock(p.file)
	lock.Lock()
	defer lock.Unlock()

	original, err := os.ReadFile(p.backupPath)
	if err != nil {
		return fmt.Errorf("apply: read backup for %s: %w", traceID, err)
	}
	path, err := a.resolve(p.file)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return fmt.Errorf("apply: restore %s: %w", p.file, err)
	}

	a.mu.Lock()
	delete(a.applied, traceID)
	a.mu.Unlock()
	os.Remove(p.backupPath)

	a.logger.Info("apply: rolled back", "trace_id", traceID, "file", p.file)
	return nil
}

// Commit discards the backup after a verified heal. The patch stays
// live.
func (a *Applier) Commit(traceID string) {
	a.mu.Lock()
	p, ok := a.applied[traceID]
	delete(a.applied, traceID)
	a.mu.Unlock()
	if ok {
		os.Remove(p.backupPath)
	}
}

// Close removes the backup directory.
func (a *Applier) Close() error {
	return os.RemoveAll(a.backupDir)
}
