package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

func writePolicyFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
}

func TestWatcherDeliversUpdateOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policies.cedar")
	writePolicyFile(t, path, `permit(principal, action, resource);`)

	mbox := make(chan ttypes.Command, 4)
	w, err := New(path, mbox, 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Watch(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	writePolicyFile(t, path, `forbid(principal, action, resource);`)

	select {
	case cmd := <-mbox:
		if cmd.Kind != ttypes.UpdatePolicySet {
			t.Fatalf("expected UpdatePolicySet, got %s", cmd.Kind)
		}
		if string(cmd.PolicyDocument) != `forbid(principal, action, resource);` {
			t.Errorf("unexpected policy document delivered: %q", cmd.PolicyDocument)
		}
		if cmd.PolicySource != path {
			t.Errorf("expected source %q, got %q", path, cmd.PolicySource)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not deliver an UpdatePolicySet command in time")
	}
}

// Rapid successive writes within the debounce window must collapse into a
// single reload, not one per write.
func TestWatcherDebouncesRapidWrites(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policies.cedar")
	writePolicyFile(t, path, `permit(principal, action, resource);`)

	mbox := make(chan ttypes.Command, 8)
	w, err := New(path, mbox, 150*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Watch(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		writePolicyFile(t, path, `permit(principal, action, resource); // rev`)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)

	count := 0
drain:
	for {
		select {
		case <-mbox:
			count++
		default:
			break drain
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one debounced reload, got %d", count)
	}
}

// New defaults the debounce window to 500ms when given zero, matching the
// teacher's documented default.
func TestNewDefaultsDebounceTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policies.cedar")
	writePolicyFile(t, path, `permit(principal, action, resource);`)

	mbox := make(chan ttypes.Command, 1)
	w, err := New(path, mbox, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsw.Close()

	if w.debounceTimeout != 500*time.Millisecond {
		t.Errorf("expected default debounce of 500ms, got %v", w.debounceTimeout)
	}
}

func TestWatchOnMissingFileReturnsError(t *testing.T) {
	mbox := make(chan ttypes.Command, 1)
	w, err := New(filepath.Join(t.TempDir(), "missing.cedar"), mbox, 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsw.Close()

	if err := w.Watch(); err == nil {
		t.Error("expected Watch to fail for a nonexistent policy file")
	}
}

// When the mailbox is full, performReload must not block: the reload is
// dropped and logged instead.
func TestPerformReloadDropsWhenMailboxFull(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policies.cedar")
	writePolicyFile(t, path, `permit(principal, action, resource);`)

	mbox := make(chan ttypes.Command) // unbuffered and nobody reading
	w, err := New(path, mbox, 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsw.Close()

	done := make(chan struct{})
	go func() {
		w.performReload()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("performReload blocked on a full mailbox instead of dropping")
	}
}
