package apply

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

const original = "policy_fields: price, inventory, category\n"
const updated = "policy_fields: price, inventory, category, return_policy\n"

func newApplier(t *testing.T) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "services"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "services", "catalog_sync.rules"), []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a, root
}

func testChange() *model.CodeChange {
	return &model.CodeChange{
		File:         "services/catalog_sync.rules",
		OriginalCode: original,
		UpdatedCode:  updated,
	}
}

func TestApplyWritesFile(t *testing.T) {
	a, root := newApplier(t)

	n, err := a.Apply(context.Background(), "t-1", testChange())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != len(updated) {
		t.Errorf("bytes written = %d, want %d", n, len(updated))
	}

	got, err := os.ReadFile(filepath.Join(root, "services", "catalog_sync.rules"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != updated {
		t.Errorf("file content = %q", got)
	}
	if !a.HasApplied("t-1") {
		t.Error("trace should be marked applied")
	}
}

func TestRollbackRestoresExactBytes(t *testing.T) {
	a, root := newApplier(t)

	if _, err := a.Apply(context.Background(), "t-1", testChange()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := a.Rollback(context.Background(), "t-1"); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "services", "catalog_sync.rules"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != original {
		t.Errorf("rollback content = %q, want original", got)
	}
	if a.HasApplied("t-1") {
		t.Error("trace should no longer be marked applied")
	}
}

func TestRollbackWithoutApplyIsNoop(t *testing.T) {
	a, _ := newApplier(t)
	if err := a.Rollback(context.Background(), "never-applied"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestApplyRejectsConcurrentModification(t *testing.T) {
	a, root := newApplier(t)

	// Someone else changed the file after the patch was generated.
	path := filepath.Join(root, "services", "catalog_sync.rules")
	if err := os.WriteFile(path, []byte("policy_fields: price\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Apply(context.Background(), "t-1", testChange()); err == nil {
		t.Fatal("expected apply to refuse a stale original")
	}
}

func TestApplyRejectsPathEscape(t *testing.T) {
	a, _ := newApplier(t)
	c := testChange()
	c.File = "../outside.rules"
	if _, err := a.Apply(context.Background(), "t-1", c); err == nil {
		t.Fatal("expected path escape to be rejected")
	}
	c.File = "/etc/passwd"
	if _, err := a.Apply(context.Background(), "t-1", c); err == nil {
		t.Fatal("expected absolute path to be rejected")
	}
}

func TestCommitDropsBackup(t *testing.T) {
	a, _ := newApplier(t)
	if _, err := a.Apply(context.Background(), "t-1", testChange()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	a.Commit("t-1")
	if a.HasApplied("t-1") {
		t.Error("commit should clear the applied record")
	}
	// Rollback after commit has nothing to restore.
	if err := a.Rollback(context.Background(), "t-1"); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
}

func TestSelfReloaderReturnsOwnPID(t *testing.T) {
	pid, err := SelfReloader{}.Reload(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}
