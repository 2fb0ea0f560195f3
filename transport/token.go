package transport

import (
	"context"
	"errors"
)

// Credentials are short-lived connection parameters for one streaming
// session.
type Credentials struct {
	URL string
	Key string
}

// TokenSource issues connection credentials per consultation. Absence
// of a credential is a fatal configuration error, not a retryable one.
type TokenSource interface {
	ConnectionToken(ctx context.Context, consultationID string) (Credentials, error)
}

// StaticTokenSource issues the configured endpoint and API key for
// every consultation.
type StaticTokenSource struct {
	URL string
	Key string
}

func (s *StaticTokenSource) ConnectionToken(_ context.Context, _ string) (Credentials, error) {
	if s.Key == "" {
		return Credentials{}, errors.New("transcription api key not configured")
	}
	if s.URL == "" {
		return Credentials{}, errors.New("transcription endpoint not configured")
	}
	return Credentials{URL: s.URL, Key: s.Key}, nil
}
