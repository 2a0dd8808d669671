package model

import (
	"context"
	"time"
)

// EventKind enumerates realtime notifications.
type EventKind string

const (
	EventMatchFound      EventKind = "match_found"
	EventStateTransition EventKind = "state_transition"
	EventNoMatch         EventKind = "no_match"
	EventChallengeUpdate EventKind = "challenge_update"
	EventDisconnect      EventKind = "disconnect"
)

// Notification is a state change addressed to a set of players.
type Notification struct {
	Kind         EventKind `json:"kind"`
	Recipients   []string  `json:"recipients"`
	SessionID    string    `json:"sessionId,omitempty"`
	ChallengeID  string    `json:"challengeId,omitempty"`
	State        string    `json:"state"`
	Participants []string  `json:"participants,omitempty"`
	MatchScore   float64   `json:"matchScore,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, Notification) {})
