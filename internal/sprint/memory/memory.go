// Package memory implements the two state-shaped external stores described
// in spec §4.7: agent memory (upsert by role+key) and process learnings
// (upsert by a deterministic id, fed by a fixed registry of signal
// detectors at sprint stop). Persistence follows the same atomic-write
// discipline as internal/sprint/persistence, adapted from the teacher's
// filestore helpers.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"teamclaude/internal/infra/filestore"
	jsonx "teamclaude/internal/shared/json"
	"teamclaude/internal/shared/logging"
)

// Memory is a single agent-memory record.
type Memory struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	SprintID     string    `json:"sprintId"`
	CreatedAt    time.Time `json:"createdAt"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Store is a file-backed, idempotent-on-(role,key) memory store.
type Store struct {
	path string
	log  logging.Logger

	mu      sync.Mutex
	records []Memory
}

// NewStore loads path if it exists, or starts empty.
func NewStore(path string, logger logging.Logger) (*Store, error) {
	s := &Store{path: path, log: logging.OrNop(logger)}
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	if len(data) > 0 {
		var records []Memory
		if err := jsonx.Unmarshal(data, &records); err != nil {
			s.log.Warn("memory: malformed store at %s, starting empty: %v", path, err)
		} else {
			s.records = records
		}
	}
	return s, nil
}

// Upsert saves rec, replacing any existing record with the same (role, key).
func (s *Store) Upsert(role, key, value, sprintID string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i, m := range s.records {
		if m.Role == role && m.Key == key {
			s.records[i].Value = value
			s.records[i].SprintID = sprintID
			s.records[i].LastAccessed = now
			rec := s.records[i]
			return rec, s.persistLocked()
		}
	}
	rec := Memory{
		ID:        fmt.Sprintf("mem-%d", now.UnixNano()),
		Role:      role,
		Key:       key,
		Value:     value,
		SprintID:  sprintID,
		CreatedAt: now,
	}
	s.records = append(s.records, rec)
	return rec, s.persistLocked()
}

// List returns records matching role (if non-empty) and a free-text query
// against key and value (if non-empty), touching AccessCount/LastAccessed
// on every match.
func (s *Store) List(role, query string) []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Memory
	now := time.Now()
	for i, m := range s.records {
		if role != "" && m.Role != role {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Key), strings.ToLower(query)) &&
			!strings.Contains(strings.ToLower(m.Value), strings.ToLower(query)) {
			continue
		}
		s.records[i].AccessCount++
		s.records[i].LastAccessed = now
		out = append(out, s.records[i])
	}
	_ = s.persistLocked() // access-count bump is best-effort; ignore write errors here
	return out
}

// Delete removes the memory identified by id, reporting whether it existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.records {
		if m.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, s.persistLocked()
		}
	}
	return false, nil
}

func (s *Store) persistLocked() error {
	data, err := filestore.MarshalJSONIndent(s.records)
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}
	if err := filestore.AtomicWrite(s.path, data, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", s.path, err)
	}
	return nil
}

// Learning is one process-learning record, attributed to a role and keyed
// deterministically so repeated firings accumulate frequency rather than
// duplicate.
type Learning struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // pm, manager, engineer
	Action    string    `json:"action"`
	Frequency int       `json:"frequency"`
	SprintIDs []string  `json:"sprintIds"`
	CreatedAt time.Time `json:"createdAt"`
}

type learningsFile struct {
	Version   int        `json:"version"`
	Learnings []Learning `json:"learnings"`
}

// LearningsStore is a file-backed store of process learnings.
type LearningsStore struct {
	path string
	log  logging.Logger

	mu        sync.Mutex
	learnings []Learning
}

// NewLearningsStore loads path if it exists, or starts empty.
func NewLearningsStore(path string, logger logging.Logger) (*LearningsStore, error) {
	s := &LearningsStore{path: path, log: logging.OrNop(logger)}
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return nil, fmt.Errorf("learnings: read %s: %w", path, err)
	}
	if len(data) > 0 {
		var f learningsFile
		if err := jsonx.Unmarshal(data, &f); err != nil {
			s.log.Warn("learnings: malformed store at %s, starting empty: %v", path, err)
		} else {
			s.learnings = f.Learnings
		}
	}
	return s, nil
}

// SignalLearningID returns the deterministic id for a signal-derived learning.
func SignalLearningID(signal, role string) string {
	return fmt.Sprintf("%s:%s", signal, role)
}

// AgentLearningID returns the deterministic id for an agent-reflection
// learning, hashed from its normalized action text and role.
func AgentLearningID(action, role string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(action)) + "|" + role))
	return "AGENT:" + hex.EncodeToString(h[:])[:16]
}

// Upsert records a firing of the learning identified by id: attaching the
// role/action on first sighting, incrementing frequency, and appending
// sprintID if new.
func (s *LearningsStore) Upsert(id, role, action, sprintID string) (Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.learnings {
		if l.ID == id {
			s.learnings[i].Frequency++
			if !containsString(s.learnings[i].SprintIDs, sprintID) {
				s.learnings[i].SprintIDs = append(s.learnings[i].SprintIDs, sprintID)
			}
			rec := s.learnings[i]
			return rec, s.persistLocked()
		}
	}
	rec := Learning{
		ID:        id,
		Role:      role,
		Action:    action,
		Frequency: 1,
		SprintIDs: []string{sprintID},
		CreatedAt: time.Now(),
	}
	s.learnings = append(s.learnings, rec)
	return rec, s.persistLocked()
}

// List returns every learning, partitioned by role for the prompt compiler.
func (s *LearningsStore) List() map[string][]Learning {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Learning)
	for _, l := range s.learnings {
		out[l.Role] = append(out[l.Role], l)
	}
	return out
}

// Delete removes the learning identified by id, reporting whether it existed.
func (s *LearningsStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.learnings {
		if l.ID == id {
			s.learnings = append(s.learnings[:i], s.learnings[i+1:]...)
			return true, s.persistLocked()
		}
	}
	return false, nil
}

func (s *LearningsStore) persistLocked() error {
	data, err := filestore.MarshalJSONIndent(learningsFile{Version: 1, Learnings: s.learnings})
	if err != nil {
		return fmt.Errorf("learnings: marshal: %w", err)
	}
	if err := filestore.AtomicWrite(s.path, data, 0o644); err != nil {
		return fmt.Errorf("learnings: write %s: %w", s.path, err)
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
