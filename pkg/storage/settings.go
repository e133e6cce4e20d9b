package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const settingsVersion = 1

// Settings is the node configuration persisted as settings.json.
type Settings struct {
	Nickname string `json:"nickname"`
	UserID   string `json:"userId"`
	Version  int    `json:"version"`

	path string
}

// LoadSettings reads settings.json from dir, creating defaults on first
// run or when the file is corrupt.
func LoadSettings(dir string) (*Settings, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dir, "settings.json")

	s := &Settings{path: path}
	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, s); jsonErr == nil && s.UserID != "" {
			s.path = path
			return s, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	s.Nickname = "anonymous"
	s.UserID = uuid.NewString()
	s.Version = settingsVersion
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings back to disk.
func (s *Settings) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// SetNickname updates and persists the nickname.
func (s *Settings) SetNickname(nick string) error {
	s.Nickname = nick
	return s.Save()
}
