package models

import "time"

// Session represents a conversation thread. Its history is only mutated while
// the owner holds the session's lane.
type Session struct {
	ID           string         `json:"id"`
	Key          string         `json:"key,omitempty"`
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	History      []Message      `json:"history"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewSession returns an empty session with timestamps set.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Key:       id,
		History:   []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...Message) {
	for i := range msgs {
		if msgs[i].SessionID == "" {
			msgs[i].SessionID = s.ID
		}
	}
	s.History = append(s.History, msgs...)
	s.UpdatedAt = time.Now()
}

// ReplaceHistory swaps the whole history, e.g. after context compression.
func (s *Session) ReplaceHistory(msgs []Message) {
	s.History = msgs
	s.UpdatedAt = time.Now()
}

// Clone deep-copies the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Message, len(s.History))
	for i, msg := range s.History {
		out.History[i] = msg.Clone()
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
