// Package filesync implements the File Sync Engine: path admission,
// change history, conflict detection, and automatic three-way merge of
// concurrent edits to shared files across workers.
package filesync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/warder/internal/ids"
	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/werrors"
)

var defaultExcludes = []string{".git/", "node_modules/", "target/", "dist/", "build/"}

// Change is one admitted edit to a path.
type Change struct {
	Path       string
	WorkerID   string
	Timestamp  time.Time
	BeforeHash string
	AfterHash  string
	Content    string
}

// ResolveState is a conflict's position in its lifecycle.
type ResolveState string

const (
	Unresolved   ResolveState = "Unresolved"
	AutoMerged   ResolveState = "AutoMerged"
	ManualPending ResolveState = "ManualPending"
	Resolved     ResolveState = "Resolved"
)

// Conflict records two or more overlapping changes to the same path.
type Conflict struct {
	ID        string
	Path      string
	Changes   []Change
	State     ResolveState
	CreatedAt time.Time
	Resolved  *Change
}

// Notifier broadcasts a successfully merged or applied change to every
// worker other than the one that originated it. The Message Router
// satisfies this via Broadcast + a FileChangeNotice payload built by the
// caller.
type Notifier interface {
	NotifyChange(c Change)
}

// Config controls path admission and history bounds.
type Config struct {
	Roots          []string
	Excludes       []string
	DebounceWindow time.Duration
	HistoryDepth   int
}

type pathState struct {
	mu      sync.Mutex
	history []Change
}

// Engine owns the change log and conflict table.
type Engine struct {
	cfg      Config
	clock    ids.Clock
	notifier Notifier

	mu        sync.RWMutex
	paths     map[string]*pathState
	conflicts map[string]*Conflict
}

// New creates an Engine. A nil clock uses SystemClock.
func New(cfg Config, clock ids.Clock, notifier Notifier) *Engine {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 16
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 200 * time.Millisecond
	}
	if len(cfg.Excludes) == 0 {
		cfg.Excludes = defaultExcludes
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		notifier:  notifier,
		paths:     make(map[string]*pathState),
		conflicts: make(map[string]*Conflict),
	}
}

// HashContent returns the content hash used for BeforeHash/AfterHash
// comparisons.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Admit validates path admission rules, then applies or merges the
// incoming change against the per-path history. Returns the resolved
// Conflict ID if the change could not be merged automatically.
func (e *Engine) Admit(path, workerID, beforeHash, content string) (conflictID string, err error) {
	canonical, err := e.normalize(path)
	if err != nil {
		return "", err
	}

	ps := e.pathStateFor(canonical)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	afterHash := HashContent(content)
	change := Change{
		Path:       canonical,
		WorkerID:   workerID,
		Timestamp:  e.clock.Now(),
		BeforeHash: beforeHash,
		AfterHash:  afterHash,
		Content:    content,
	}

	latest := lastChange(ps.history)
	if latest == nil || beforeHash == latest.AfterHash {
		appendHistory(ps, change, e.cfg.HistoryDepth)
		e.notify(change)
		return "", nil
	}

	base := findByAfterHash(ps.history, beforeHash)
	if base == nil {
		cid := e.recordConflict(canonical, []Change{*latest, change})
		return cid, nil
	}

	merged, ok := threeWayMerge(base.Content, latest.Content, content)
	if !ok {
		cid := e.recordConflict(canonical, []Change{*latest, change})
		return cid, nil
	}

	mergedChange := Change{
		Path:       canonical,
		WorkerID:   workerID,
		Timestamp:  e.clock.Now(),
		BeforeHash: latest.AfterHash,
		AfterHash:  HashContent(merged),
		Content:    merged,
	}
	appendHistory(ps, mergedChange, e.cfg.HistoryDepth)
	e.notify(mergedChange)
	return "", nil
}

func (e *Engine) notify(c Change) {
	if e.notifier != nil {
		e.notifier.NotifyChange(c)
	}
}

func (e *Engine) pathStateFor(path string) *pathState {
	e.mu.Lock()
	ps, ok := e.paths[path]
	if !ok {
		ps = &pathState{}
		e.paths[path] = ps
	}
	e.mu.Unlock()
	return ps
}

func (e *Engine) recordConflict(path string, changes []Change) string {
	id := ids.NewTaskID()
	e.mu.Lock()
	e.conflicts[id] = &Conflict{
		ID:        id,
		Path:      path,
		Changes:   append([]Change(nil), changes...),
		State:     Unresolved,
		CreatedAt: e.clock.Now(),
	}
	e.mu.Unlock()
	log.Warn(log.CatFileSync, "merge conflict recorded", "conflict_id", id, "path", path)
	return id
}

// Resolve marks a conflict Resolved with either a chosen prior change's
// content (chosenWorkerID) or explicitly provided content, and broadcasts
// the winning content to every worker.
func (e *Engine) Resolve(conflictID, chosenWorkerID, providedContent string) error {
	e.mu.Lock()
	c, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return werrors.NotFound("conflict", conflictID)
	}

	var resolved Change
	if providedContent != "" {
		resolved = Change{
			Path:      c.Path,
			WorkerID:  "resolver",
			Timestamp: e.clock.Now(),
			Content:   providedContent,
			AfterHash: HashContent(providedContent),
		}
	} else {
		var found *Change
		for i := range c.Changes {
			if c.Changes[i].WorkerID == chosenWorkerID {
				found = &c.Changes[i]
				break
			}
		}
		if found == nil {
			e.mu.Unlock()
			return werrors.New(werrors.KindValidation, werrors.CodeMergeConflict, fmt.Sprintf("no change from worker %q in conflict %q", chosenWorkerID, conflictID))
		}
		resolved = *found
	}
	c.State = Resolved
	c.Resolved = &resolved
	e.mu.Unlock()

	ps := e.pathStateFor(c.Path)
	ps.mu.Lock()
	appendHistory(ps, resolved, e.cfg.HistoryDepth)
	ps.mu.Unlock()

	e.notify(resolved)
	log.Info(log.CatFileSync, "conflict resolved", "conflict_id", conflictID, "path", c.Path)
	return nil
}

// Conflicts returns every conflict, most recently created last.
func (e *Engine) Conflicts() []Conflict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// normalize resolves path to an absolute, symlink-free form and rejects
// it unless it lies under a configured root and matches no exclusion.
func (e *Engine) normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", werrors.Wrap(werrors.KindValidation, werrors.CodeFileSyncError, "resolving path", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", werrors.Wrap(werrors.KindValidation, werrors.CodeFileSyncError, "resolving symlinks", err)
		}
		resolved = abs
	}

	if !e.underRoot(resolved) {
		return "", werrors.New(werrors.KindPolicyRejected, werrors.CodeFileSyncError, fmt.Sprintf("path %q is outside every configured root", resolved))
	}
	if e.excluded(resolved) {
		return "", werrors.New(werrors.KindPolicyRejected, werrors.CodeFileSyncError, fmt.Sprintf("path %q matches an exclusion pattern", resolved))
	}
	return resolved, nil
}

func (e *Engine) underRoot(path string) bool {
	if len(e.cfg.Roots) == 0 {
		return true
	}
	norm := foldCase(path)
	for _, root := range e.cfg.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(foldCase(absRoot), norm); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (e *Engine) excluded(path string) bool {
	norm := foldCase(path)
	for _, pattern := range e.cfg.Excludes {
		if strings.Contains(norm, foldCase(pattern)) {
			return true
		}
	}
	return false
}

func foldCase(s string) string {
	if os.PathSeparator == '\\' {
		return strings.ToLower(s)
	}
	return s
}

func appendHistory(ps *pathState, c Change, depth int) {
	ps.history = append(ps.history, c)
	if len(ps.history) > depth {
		ps.history = ps.history[len(ps.history)-depth:]
	}
}

func lastChange(history []Change) *Change {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

func findByAfterHash(history []Change, hash string) *Change {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].AfterHash == hash {
			return &history[i]
		}
	}
	return nil
}
