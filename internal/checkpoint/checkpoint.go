// Package checkpoint snapshots the files a workflow step is about to
// mutate so a failed step's changes can be rolled back in reverse order.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Checkpoint captures the pre-mutation contents of every file a step
// touches, keyed by absolute path. A missing entry means the file did not
// exist yet; rollback deletes it.
type Checkpoint struct {
	ID            string            `json:"id"`
	PlanID        string            `json:"plan_id"`
	StepID        string            `json:"step_id"`
	CreatedAt     time.Time         `json:"created_at"`
	FileSnapshots map[string][]byte `json:"file_snapshots"`
	Existed       map[string]bool   `json:"existed"`
}

// Store persists checkpoints to dir, one JSON file per checkpoint, and
// keeps an in-memory index for fast lookup and reverse-order rollback.
type Store struct {
	dir         string
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	order       []string // insertion order, for reverse-order rollback
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create store dir: %w", err)
	}
	s := &Store{dir: dir, checkpoints: make(map[string]*Checkpoint)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Create snapshots the current contents of paths (canonical paths, as
// returned by toolexec.TouchedPaths) and records the checkpoint under
// planID/stepID.
func (s *Store) Create(planID, stepID string, paths []string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:            uuid.NewString(),
		PlanID:        planID,
		StepID:        stepID,
		CreatedAt:     time.Now(),
		FileSnapshots: make(map[string][]byte, len(paths)),
		Existed:       make(map[string]bool, len(paths)),
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				cp.Existed[p] = false
				continue
			}
			return nil, fmt.Errorf("checkpoint: snapshot %s: %w", p, err)
		}
		cp.Existed[p] = true
		cp.FileSnapshots[p] = data
	}

	s.mu.Lock()
	s.checkpoints[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	s.mu.Unlock()

	return cp, s.flush(cp)
}

// Get returns a previously created checkpoint by ID.
func (s *Store) Get(id string) (*Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[id]
	return cp, ok
}

// ForPlan returns every checkpoint created for planID, in creation order.
func (s *Store) ForPlan(planID string) []*Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Checkpoint
	for _, id := range s.order {
		if cp := s.checkpoints[id]; cp.PlanID == planID {
			out = append(out, cp)
		}
	}
	return out
}

// Restore writes cp's snapshotted contents back to disk, removing files
// that did not exist at checkpoint time.
func Restore(cp *Checkpoint) error {
	for path, existed := range cp.Existed {
		if !existed {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("checkpoint: rollback remove %s: %w", path, err)
			}
			continue
		}
		data := cp.FileSnapshots[path]
		if err := atomicWrite(path, data); err != nil {
			return fmt.Errorf("checkpoint: rollback restore %s: %w", path, err)
		}
	}
	return nil
}

// RollbackPlan restores every checkpoint for planID in reverse creation
// order, per the workflow engine's rollback-on-failure step (§4.9).
func (s *Store) RollbackPlan(planID string) error {
	checkpoints := s.ForPlan(planID)
	for i := len(checkpoints) - 1; i >= 0; i-- {
		if err := Restore(checkpoints[i]); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPlan removes every checkpoint recorded for planID, both from disk
// and from the in-memory index. Called once a plan reaches StatusCompleted:
// a successful run has nothing left to roll back to.
func (s *Store) DiscardPlan(planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.order[:0]
	var firstErr error
	for _, id := range s.order {
		cp, ok := s.checkpoints[id]
		if !ok {
			continue
		}
		if cp.PlanID != planID {
			remaining = append(remaining, id)
			continue
		}
		path := filepath.Join(s.dir, id+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("checkpoint: discard %s: %w", path, err)
		}
		delete(s.checkpoints, id)
	}
	s.order = remaining
	return firstErr
}

func (s *Store) flush(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	path := filepath.Join(s.dir, cp.ID+".json")
	return atomicWrite(path, data)
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("checkpoint: read store dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		s.checkpoints[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	// Directory entries come back in file-name (random id) order; restore
	// creation order so ForPlan and RollbackPlan stay correct after a reload.
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.checkpoints[s.order[i]].CreatedAt.Before(s.checkpoints[s.order[j]].CreatedAt)
	})
	return nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
