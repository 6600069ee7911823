package pending

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"adgate/internal/models"
)

// FileStore keeps the pending slots in memory and mirrors them to a JSON
// file so intents survive a restart between the content page and the gate.
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	slots    map[string]models.PendingDownload
}

func NewFileStore(dataDir string) *FileStore {
	os.MkdirAll(dataDir, os.ModePerm)

	store := &FileStore{filePath: dataDir + "/pending.json", slots: map[string]models.PendingDownload{}}
	if err := store.load(); err != nil {
		slog.Warn("Could not load existing pending slots, starting fresh", "error", err)
	}
	return store
}

func (s *FileStore) load() error {
	file, err := os.Open(s.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var slots map[string]models.PendingDownload
	if err := json.NewDecoder(file).Decode(&slots); err != nil {
		return err
	}
	s.slots = slots
	return nil
}

// save must be called with the write lock held.
func (s *FileStore) save() {
	file, err := os.Create(s.filePath)
	if err != nil {
		slog.Error("Failed to save pending slots", "error", err)
		return
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(s.slots); err != nil {
		slog.Error("Failed to encode pending slots", "error", err)
	}
}

func (s *FileStore) Put(ctx context.Context, session string, rec models.PendingDownload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[session] = rec
	s.save()
	return nil
}

func (s *FileStore) Peek(ctx context.Context, session string) (models.PendingDownload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.slots[session]
	if !ok {
		return models.PendingDownload{}, ErrNoPending
	}
	return rec, nil
}

func (s *FileStore) Take(ctx context.Context, session string) (models.PendingDownload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[session]
	if !ok {
		return models.PendingDownload{}, ErrNoPending
	}
	delete(s.slots, session)
	s.save()
	return rec, nil
}

func (s *FileStore) Clear(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, session)
	s.save()
	return nil
}
