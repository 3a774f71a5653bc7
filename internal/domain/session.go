// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLocale       = "en"
	DefaultSignLanguage = "NONE"
	DefaultPurpose      = "chat"

	MaxLocaleLen       = 20
	MaxRegionLen       = 10
	MaxSignLanguageLen = 20
	MaxPurposeLen      = 20
)

var ErrFieldTooLong = errors.New("field too long")

type SessionID string

// Session is the anonymous session record created by the init endpoint.
// The realtime side only ever sees its ID through the credential.
type Session struct {
	ID           SessionID `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Locale       string    `json:"locale"`
	Region       string    `json:"region"`
	SignLanguage string    `json:"sign_language"`
	Purpose      string    `json:"purpose"`
	AllowDataUse bool      `json:"allow_data_use"`
}

// SessionOptions are the client supplied settings; empty fields get defaults.
type SessionOptions struct {
	Locale       string `json:"locale"`
	Region       string `json:"region"`
	SignLanguage string `json:"sign_language"`
	Purpose      string `json:"purpose"`
	AllowDataUse bool   `json:"allow_data_use"`
}

// NewSession applies defaults and checks the column limits of the record.
func NewSession(opts SessionOptions, now time.Time) (*Session, error) {
	s := &Session{
		ID:           SessionID(uuid.NewString()),
		CreatedAt:    now,
		LastActiveAt: now,
		Locale:       orDefault(opts.Locale, DefaultLocale),
		Region:       NormalizeRegion(opts.Region),
		SignLanguage: orDefault(opts.SignLanguage, DefaultSignLanguage),
		Purpose:      orDefault(opts.Purpose, DefaultPurpose),
		AllowDataUse: opts.AllowDataUse,
	}
	switch {
	case len(s.Locale) > MaxLocaleLen,
		len(s.Region) > MaxRegionLen,
		len(s.SignLanguage) > MaxSignLanguageLen,
		len(s.Purpose) > MaxPurposeLen:
		return nil, ErrFieldTooLong
	}
	return s, nil
}

// Touch bumps the activity timestamp.
func (s *Session) Touch(now time.Time) { s.LastActiveAt = now }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
