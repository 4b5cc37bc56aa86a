// Package watcher implements the Policy Reload Watcher (C6): a sibling
// task to the Policy Decision Core that watches the policy file for
// changes and enqueues an UpdatePolicySet command on change.
//
// Shape (struct fields, debounce pattern, watch loop) grounded on
// tommaduri-AuthZ's internal/policy/watcher.go FileWatcher, adapted to
// watch a single policy file rather than a directory of YAML/JSON
// policies, to send its result into the Policy Decision Core's mailbox
// instead of a MemoryStore, and to skip the re-validation step the
// teacher's performReload does on every reload: SPEC_FULL.md §4.6 is
// explicit that only startup validates against the schema; every
// subsequent reload re-parses and trusts the author.
package watcher

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

// Watcher monitors one policy file and delivers UpdatePolicySet commands
// to the dispatcher's mailbox on change.
type Watcher struct {
	fsw             *fsnotify.Watcher
	path            string
	mbox            chan<- ttypes.Command
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	mu              sync.Mutex
	stopChan        chan struct{}
}

// New creates a watcher for path, which must already exist. debounce is
// the quiet period after the last detected write before a reload fires;
// zero selects the teacher's default of 500ms.
func New(path string, mbox chan<- ttypes.Command, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:             fsw,
		path:            path,
		mbox:            mbox,
		logger:          logger,
		debounceTimeout: debounce,
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch adds the policy file to the underlying fsnotify watch set and
// starts the watch loop in its own goroutine.
func (w *Watcher) Watch() error {
	if err := w.fsw.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("policy watcher started", zap.String("path", w.path), zap.Duration("debounce", w.debounceTimeout))
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.logger.Info("policy watcher stopped")
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTimeout, w.performReload)
}

// performReload re-reads the policy file and enqueues an UpdatePolicySet
// command. A read failure is logged and discarded: the existing policy
// set remains in force (§4.6), and the dispatcher's own parse step is
// what would actually reject malformed text, so a read error here never
// produces an UpdatePolicySet at all.
func (w *Watcher) performReload() {
	document, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error("policy reload: read failed, keeping previous generation", zap.Error(err))
		return
	}
	select {
	case w.mbox <- ttypes.Command{
		Kind:           ttypes.UpdatePolicySet,
		PolicyDocument: document,
		PolicySource:   w.path,
	}:
		w.logger.Debug("policy reload enqueued")
	default:
		w.logger.Warn("dispatcher mailbox full, dropping policy reload")
	}
}

// Stop closes the underlying fsnotify watcher and halts the watch loop.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
