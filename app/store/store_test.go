package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStoreIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	SetPath(path)

	id := GetID()
	if id == "" {
		t.Fatal("Expected a generated install ID")
	}
	if GetFirstTimeRun() {
		t.Error("Expected first-time-run flag to start false")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected store file to be written: %v", err)
	}
	var onDisk Store
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("Store file is not valid JSON: %v", err)
	}
	if onDisk.ID != id {
		t.Errorf("Expected ID %s on disk, got %s", id, onDisk.ID)
	}
}

func TestStoreSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	SetPath(path)

	id := GetID()
	SetFirstTimeRun(true)
	SetBackendPID(4242)

	SetPath(path)

	if got := GetID(); got != id {
		t.Errorf("Expected ID %s after reload, got %s", id, got)
	}
	if !GetFirstTimeRun() {
		t.Error("Expected first-time-run flag to persist")
	}
	if got := GetBackendPID(); got != 4242 {
		t.Errorf("Expected backend pid 4242, got %d", got)
	}

	SetBackendPID(0)
	SetPath(path)
	if got := GetBackendPID(); got != 0 {
		t.Errorf("Expected cleared backend pid, got %d", got)
	}
}

func TestCorruptStoreIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	SetPath(path)

	if GetID() == "" {
		t.Fatal("Expected a fresh ID after corrupt store")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read store: %v", err)
	}
	var onDisk Store
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Errorf("Expected corrupt store to be rewritten, got %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary store file to be gone")
	}
}

func TestUnsetPathDoesNotPersist(t *testing.T) {
	SetPath("")
	if GetID() == "" {
		t.Error("Expected an in-memory ID even without a path")
	}
	SetFirstTimeRun(true)
	if !GetFirstTimeRun() {
		t.Error("Expected in-memory flag to be set")
	}
}
