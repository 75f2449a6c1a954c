// Package sessions persists session snapshots. The runtime owns live
// sessions; a Store only ever sees whole snapshots written after a turn.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/warden/pkg/models"
)

// ErrNotFound is returned when a session id has no stored snapshot.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	Load(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Close() error
}

// ListOptions configures session listing. Results are newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Summary describes a stored session without its history.
type Summary struct {
	ID           string    `json:"id"`
	Key          string    `json:"key,omitempty"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func summarize(s *models.Session) Summary {
	return Summary{
		ID:           s.ID,
		Key:          s.Key,
		Model:        s.Model,
		MessageCount: len(s.History),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func encodeSnapshot(s *models.Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("session is required")
	}
	if s.ID == "" {
		return nil, errors.New("session ID is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.History == nil {
		s.History = []models.Message{}
	}
	return &s, nil
}

func pageBounds(n int, opts ListOptions) (int, int) {
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return start, end
}
