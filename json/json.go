// Package json saves and loads conversation transcripts as versioned JSON
// files.
package json

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nageoffer/ragent"
)

// version is the current envelope version.
const version = 1

// envelope is the v1 wire format for a saved transcript.
type envelope struct {
	Version  int          `json:"version"`
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	LastTime time.Time    `json:"last_time"`
	Messages []messageDTO `json:"messages"`
}

// MarshalSession serializes a Session to JSON in v1 envelope format.
func MarshalSession(s ragent.Session) ([]byte, error) {
	env := envelope{
		Version:  version,
		ID:       s.ID,
		Title:    s.Title,
		LastTime: s.LastTime,
		Messages: make([]messageDTO, len(s.Messages)),
	}
	for i, msg := range s.Messages {
		env.Messages[i] = marshalMessage(msg)
	}
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalSession deserializes a Session from JSON in v1 envelope format.
func UnmarshalSession(data []byte) (ragent.Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ragent.Session{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != version {
		return ragent.Session{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	msgs := make([]ragent.Message, len(env.Messages))
	for i, dto := range env.Messages {
		msg, err := unmarshalMessage(dto)
		if err != nil {
			return ragent.Session{}, fmt.Errorf("message %d: %w", i, err)
		}
		msg.ConversationID = env.ID
		msgs[i] = msg
	}
	return ragent.Session{
		ID:       env.ID,
		Title:    env.Title,
		LastTime: env.LastTime,
		Messages: msgs,
	}, nil
}

// Save writes a Session to a JSON file, creating parent directories as needed.
// The file is replaced atomically.
func Save(path string, s ragent.Session) error {
	data, err := MarshalSession(s)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a Session from a JSON file.
func Load(path string) (ragent.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ragent.Session{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalSession(data)
}
