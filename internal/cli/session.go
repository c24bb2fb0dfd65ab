package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const sessionFile = "session.json"

// Session is the credential set `twc login` stores under ~/.twc. Commands
// load it per invocation; there is no refresh handling, an expired token just
// asks the player to log in again.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".twc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func SaveSession(s Session) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sessionFile), body, 0o600)
}

// LoadSession reads the stored session and rejects one without an access
// token, so callers can treat any error as "login required".
func LoadSession() (Session, error) {
	dir, err := configDir()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, fmt.Errorf("session has no access token")
	}
	return s, nil
}

// ClearSession removes the session file; logging out twice is fine.
func ClearSession() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, sessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
