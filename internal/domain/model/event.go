// Package model contains domain models passed between layers.
package model

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// EventType classifies a captured client event.
type EventType string

// Event types emitted by the capture layer.
const (
	KeyDown EventType = "keydown"
	KeyUp   EventType = "keyup"
	Paste   EventType = "paste"
	Blur    EventType = "blur"
	Focus   EventType = "focus"
)

// KeyEvent is a single captured event. TS is absolute and its unit (ms or s)
// must be consistent within one session. A nil TS marks a malformed event.
type KeyEvent struct {
	Type            EventType `json:"type"`
	Key             string    `json:"key,omitempty"`
	TS              *float64  `json:"ts,omitempty"`
	ClipboardLength *int      `json:"clipboardLength,omitempty"`
	TextLen         *int      `json:"textLen,omitempty"`
}

// IsKey reports whether the event is a keydown or keyup.
func (e KeyEvent) IsKey() bool {
	return e.Type == KeyDown || e.Type == KeyUp
}

// Printable reports whether the event is a keydown producing a visible character.
func (e KeyEvent) Printable() bool {
	if e.Type != KeyDown || utf8.RuneCountInString(e.Key) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(e.Key)
	return unicode.IsPrint(r)
}

// Ptr returns a pointer to v. Used for the optional KeyEvent fields.
func Ptr[T any](v T) *T { return &v }

// Sample is one enrollment typing sample awaiting aggregation.
type Sample struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	Events    []KeyEvent `json:"events"`
	Chars     int        `json:"chars"`
	KeyEvents int        `json:"key_events"`
	CreatedAt time.Time  `json:"created_at"`
}

// Submission is a free-text answer queued for asynchronous verification.
type Submission struct {
	SubmissionID string     `json:"submission_id"`
	Identity     string     `json:"identity"`
	QuestionID   string     `json:"question_id,omitempty"`
	FinalText    string     `json:"final_text,omitempty"`
	Events       []KeyEvent `json:"events"`
	ReceivedAt   time.Time  `json:"received_at"`
}
