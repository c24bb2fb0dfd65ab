// Package syncq persists API writes made while offline so `twc sync` can
// replay them later. Each queued command keeps the idempotency key it was
// first attempted with, so a replay that raced the original request is
// rejected by the server instead of applied twice.
package syncq

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const queueFile = "queue.json"

// Command is one deferred API write.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".twc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, queueFile), nil
}

// Load reads the queued commands in the order they were pushed. A missing or
// empty queue file is an empty queue, not an error.
func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Command{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save replaces the queue wholesale; callers pass back the commands that
// still need replaying.
func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Push appends one command to the end of the queue.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	return Save(append(commands, cmd))
}
