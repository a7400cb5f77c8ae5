// Package store persists the small amount of state the shell keeps between
// runs: an install ID, whether the first-run notice was shown, and the pid of
// the backend it last started.
package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

type Store struct {
	ID           string `json:"id"`
	FirstTimeRun bool   `json:"first-time-run"`
	BackendPID   int    `json:"backend-pid,omitempty"`
}

var (
	lock      sync.Mutex
	store     Store
	storePath string
	loaded    bool
)

// SetPath points the store at a file and forgets any state loaded from a
// previous path.
func SetPath(path string) {
	lock.Lock()
	defer lock.Unlock()
	storePath = path
	store = Store{}
	loaded = false
}

func GetID() string {
	lock.Lock()
	defer lock.Unlock()
	ensureLoaded()
	return store.ID
}

func GetFirstTimeRun() bool {
	lock.Lock()
	defer lock.Unlock()
	ensureLoaded()
	return store.FirstTimeRun
}

func SetFirstTimeRun(val bool) {
	lock.Lock()
	defer lock.Unlock()
	ensureLoaded()
	if store.FirstTimeRun == val {
		return
	}
	store.FirstTimeRun = val
	writeStore(storePath)
}

// GetBackendPID returns the pid recorded by the last SetBackendPID, or 0.
func GetBackendPID() int {
	lock.Lock()
	defer lock.Unlock()
	ensureLoaded()
	return store.BackendPID
}

func SetBackendPID(pid int) {
	lock.Lock()
	defer lock.Unlock()
	ensureLoaded()
	if store.BackendPID == pid {
		return
	}
	store.BackendPID = pid
	writeStore(storePath)
}

func ensureLoaded() {
	if loaded {
		return
	}
	loaded = true
	initStore()
}

func initStore() {
	if storePath == "" {
		slog.Warn("store path not set, state will not persist")
		store.ID = uuid.NewString()
		return
	}
	storeFile, err := os.Open(storePath)
	if err == nil {
		defer storeFile.Close()
		if err = json.NewDecoder(storeFile).Decode(&store); err == nil && store.ID != "" {
			slog.Debug("loaded existing store", "path", storePath, "id", store.ID)
			return
		}
		slog.Warn("failed to decode store file, creating a new one", "path", storePath, "error", err)
		store = Store{}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("unexpected error opening store, creating a new one", "path", storePath, "error", err)
	}

	slog.Debug("initializing new store")
	store.ID = uuid.NewString()
	writeStore(storePath)
}

func writeStore(storeFilename string) {
	if storeFilename == "" {
		return
	}
	dir := filepath.Dir(storeFilename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create dir", "path", dir, "error", err)
		return
	}

	payload, err := json.Marshal(store)
	if err != nil {
		slog.Error("failed to marshal store", "error", err)
		return
	}

	// Write then rename so a crash never leaves a truncated store behind.
	tmp := storeFilename + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		slog.Error("failed to write store", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, storeFilename); err != nil {
		slog.Error("failed to replace store", "path", storeFilename, "error", err)
		_ = os.Remove(tmp)
		return
	}

	slog.Debug("Store contents", "contents", string(payload))
	slog.Info("wrote store", "path", storeFilename)
}
