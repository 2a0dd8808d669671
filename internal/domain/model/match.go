package model

import "time"

// Match origins.
const (
	OriginQueue     = "queue"
	OriginChallenge = "challenge"
)

// QueueEntry is a player waiting for a match.
type QueueEntry struct {
	PlayerID  string    `json:"playerId"`
	Theta     float64   `json:"theta"`
	MatchType string    `json:"matchType"`
	Language  string    `json:"language"`
	MatchSize int       `json:"matchSize"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Bucket is the compatibility class of an entry.
type Bucket struct {
	MatchType string
	Language  string
	MatchSize int
}

// Bucket returns the entry's compatibility class.
func (e QueueEntry) Bucket() Bucket {
	return Bucket{MatchType: e.MatchType, Language: e.Language, MatchSize: e.MatchSize}
}

// MatchRequest asks for a battle session between players.
// Both the scheduler and accepted challenges produce one.
type MatchRequest struct {
	Players   []string `json:"players"`
	MatchType string   `json:"matchType"`
	Language  string   `json:"language"`
	Score     float64  `json:"matchScore"`
	Origin    string   `json:"origin"`
	// Wager is the challenger's optional stake; zero uses the default wager rule.
	Wager int `json:"wager,omitempty"`
}
