// internal/wallet/storage.go
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Link binds a session to a wallet address.
type Link struct {
	Address   common.Address `json:"address"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Storage is the durable backing for wallet links. Put must not return
// until the record is durable.
type Storage interface {
	Get(ctx context.Context, sessionID string) (Link, bool, error)
	Put(ctx context.Context, sessionID string, link Link) error
	Delete(ctx context.Context, sessionID string) error
}

// fileRecord is the on-disk shape of one link.
type fileRecord struct {
	Address   string `json:"address"`
	UpdatedAt int64  `json:"updatedAt"`
}

// FileStorage keeps every link in memory and rewrites the whole file on each
// mutation. Fine for low write volume.
type FileStorage struct {
	path string

	mu    sync.RWMutex
	links map[string]Link
}

// OpenFileStorage loads the link table at path, creating an empty one if the
// file does not exist.
func OpenFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{path: path, links: make(map[string]Link)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet links %s: %w", path, err)
	}
	if len(data) == 0 {
		return fs, nil
	}

	var records map[string]fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse wallet links %s: %w", path, err)
	}
	for session, rec := range records {
		if !common.IsHexAddress(rec.Address) {
			continue
		}
		fs.links[session] = Link{
			Address:   common.HexToAddress(rec.Address),
			UpdatedAt: time.UnixMilli(rec.UpdatedAt),
		}
	}
	return fs, nil
}

// Get implements Storage.
func (fs *FileStorage) Get(_ context.Context, sessionID string) (Link, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	l, ok := fs.links[sessionID]
	return l, ok, nil
}

// Put implements Storage.
func (fs *FileStorage) Put(_ context.Context, sessionID string, link Link) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	next := fs.copyLocked()
	next[sessionID] = link
	if err := fs.write(next); err != nil {
		return err
	}
	fs.links = next
	return nil
}

// Delete implements Storage.
func (fs *FileStorage) Delete(_ context.Context, sessionID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.links[sessionID]; !ok {
		return nil
	}
	next := fs.copyLocked()
	delete(next, sessionID)
	if err := fs.write(next); err != nil {
		return err
	}
	fs.links = next
	return nil
}

// Len returns the number of stored links.
func (fs *FileStorage) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.links)
}

func (fs *FileStorage) copyLocked() map[string]Link {
	next := make(map[string]Link, len(fs.links)+1)
	for k, v := range fs.links {
		next[k] = v
	}
	return next
}

// write replaces the file atomically: temp file, fsync, rename.
func (fs *FileStorage) write(links map[string]Link) error {
	records := make(map[string]fileRecord, len(links))
	for session, l := range links {
		records[session] = fileRecord{Address: l.Address.Hex(), UpdatedAt: l.UpdatedAt.UnixMilli()}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet links: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".wallet-links-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write wallet links: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync wallet links: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close wallet links: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("replace wallet links: %w", err)
	}
	return nil
}
