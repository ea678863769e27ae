// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxUsernameLen = 64

var ErrUsernameEmpty = errors.New("username empty")

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NormalizeUsername cuts a display name to at most limit runes.
// A non-positive limit falls back to MaxUsernameLen.
func NormalizeUsername(username string, limit int) (string, error) {
	if username == "" {
		return "", ErrUsernameEmpty
	}
	return truncateRunes(username, limit), nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		limit = MaxUsernameLen
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
