package reconnect

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	. "github.com/Krajiyah/glasslink/pkg/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is what survives a restart
type State struct {
	Remembered          []PeripheralID `json:"remembered"`
	LastConnected       PeripheralID   `json:"lastConnected,omitempty"`
	LastAccessorySerial string         `json:"lastAccessorySerial,omitempty"`
}

// Store persists State
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps State as a json document on disk
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns an empty State when the file does not exist yet
func (s *FileStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{}
	b, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, errors.Wrapf(err, "read %s", s.path)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, errors.Wrapf(err, "decode %s", s.path)
	}
	return st, nil
}

// Save replaces the file atomically through a temp file
func (s *FileStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", s.path)
	}
	tmp := s.path + ".tmp"
	if err := ioutil.WriteFile(tmp, b, 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, s.path), "rename %s", tmp)
}

// MemoryStore is a Store for tests and ephemeral sessions
type MemoryStore struct {
	mu    sync.Mutex
	state State
	saves int
}

func NewMemoryStore(initial State) *MemoryStore {
	return &MemoryStore{state: copyState(initial)}
}

func (s *MemoryStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state), nil
}

func (s *MemoryStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(st)
	s.saves++
	return nil
}

// Saves counts Save calls
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func copyState(st State) State {
	st.Remembered = append([]PeripheralID(nil), st.Remembered...)
	return st
}
