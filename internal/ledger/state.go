package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"DCAVault/internal/model"
)

// State is the durable part of a vault: its configuration, balances and
// holder positions. Cycle records are never part of it.
type State struct {
	Vault     *model.Vault             `json:"vault"`
	Holders   map[string]*model.Holder `json:"holders"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (s *State) clone() *State {
	c := &State{Holders: make(map[string]*model.Holder, len(s.Holders)), UpdatedAt: s.UpdatedAt}
	if s.Vault != nil {
		v := *s.Vault
		c.Vault = &v
	}
	for id, h := range s.Holders {
		hc := *h
		c.Holders[id] = &hc
	}
	return c
}

// Store persists ledger state. Save must be atomic: after a failed Save the
// previously saved state is still the one Load returns.
type Store interface {
	Load() (*State, error)
	Save(state *State) error
}

// FileStore keeps state in a JSON file, replaced atomically on each save.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state file. Returns an empty state if the file doesn't exist.
func (f *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Holders: map[string]*model.Holder{}}, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if state.Holders == nil {
		state.Holders = map[string]*model.Holder{}
	}
	return &state, nil
}

// Save writes to a temp file in the same directory and renames it over the
// state file.
func (f *FileStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

// MemoryStore keeps an encoded copy of the state in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return &State{Holders: map[string]*model.Holder{}}, nil
	}
	var state State
	if err := json.Unmarshal(m.data, &state); err != nil {
		return nil, err
	}
	if state.Holders == nil {
		state.Holders = map[string]*model.Holder{}
	}
	return &state, nil
}

func (m *MemoryStore) Save(state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}
