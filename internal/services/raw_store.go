package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/table"
)

// Raw dataset names.
const (
	RawAttributes = "scryfall"
	RawPrices     = "mtgjson"
)

var ErrRawNotFound = errors.New("raw dataset not found")

// RawStore keeps fetched upstream tables as JSON files so analysis can run
// without refetching.
type RawStore struct {
	storageDir string
}

// NewRawStore creates dir if needed.
func NewRawStore(dir string) (*RawStore, error) {
	if dir == "" {
		dir = filepath.Join(".", "data", "raw")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create raw data directory: %w", err)
	}
	return &RawStore{storageDir: dir}, nil
}

func (s *RawStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid raw dataset name %q", name)
	}
	return filepath.Join(s.storageDir, name+".json"), nil
}

// Save writes t under name, replacing any previous copy atomically.
func (s *RawStore) Save(name string, t *table.Table) error {
	if t == nil {
		return fmt.Errorf("raw dataset %s: nil table", name)
	}
	dst, err := s.path(name)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.storageDir, "."+name+"-"+uuid.New().String()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to save raw dataset: %w", err)
	}
	if err := json.NewEncoder(f).Encode(t); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode raw dataset %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save raw dataset: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save raw dataset: %w", err)
	}
	log.Infof("Raw store: saved %s (%d rows, %d columns)", name, t.Len(), t.Width())
	return nil
}

// Load reads the table saved under name.
func (s *RawStore) Load(name string) (*table.Table, error) {
	src, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRawNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var t table.Table
	if err := json.NewDecoder(f).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode raw dataset %s: %w", name, err)
	}
	return &t, nil
}

// Exists reports whether name has been saved.
func (s *RawStore) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// GetStorageDir returns the storage directory path
func (s *RawStore) GetStorageDir() string {
	return s.storageDir
}
