package http

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyToken is returned when a token file holds only whitespace.
var ErrEmptyToken = errors.New("token file is empty")

// ReadTokenFile reads a bearer token from path, trimming surrounding whitespace.
func ReadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an explicit user setting
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyToken)
	}
	return token, nil
}
