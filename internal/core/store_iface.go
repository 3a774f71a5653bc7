package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Duet/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists the anonymous session records handed out by the
// init endpoint.
type SessionStore interface {
	Save(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Touch(ctx context.Context, id domain.SessionID, now time.Time) error
	Close() error
}
