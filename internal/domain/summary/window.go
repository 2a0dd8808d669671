// Package summary maintains the rolling performance window per (player, lesson).
//
// The window is a cache over the attempt log: Push keeps it current on every
// insert and Rebuild recomputes it from the log. Both paths produce the same
// Window for the same set of attempts regardless of arrival order.
package summary

import (
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// DefaultSize is the number of attempts kept per window.
const DefaultSize = 50

// Entry is the part of an attempt the window needs.
type Entry struct {
	Seq     int64     `json:"seq"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

func entryOf(a model.Attempt) Entry {
	return Entry{Seq: a.Seq, Success: a.Success, At: a.CreatedAt}
}

// newer orders entries by timestamp, then sequence.
func (e Entry) newer(o Entry) bool {
	if !e.At.Equal(o.At) {
		return e.At.After(o.At)
	}
	return e.Seq > o.Seq
}

func (e Entry) same(o Entry) bool {
	return e.Seq == o.Seq && e.At.Equal(o.At)
}

// Stats are the aggregates derived from the window.
// LastSuccessAt and LastAttemptAt track every attempt seen, evicted ones included.
type Stats struct {
	Total                int       `json:"total"`
	Successes            int       `json:"successes"`
	Failures             int       `json:"failures"`
	CurrentSuccessStreak int       `json:"currentSuccessStreak"`
	CurrentFailStreak    int       `json:"currentFailStreak"`
	LastSuccessAt        time.Time `json:"lastSuccessAt,omitempty"`
	LastAttemptAt        time.Time `json:"lastAttemptAt,omitempty"`
}

// Window holds at most Size entries, newest first.
type Window struct {
	Size    int     `json:"size"`
	Entries []Entry `json:"entries"`
	Stats   Stats   `json:"stats"`
}

// New returns an empty window; size <= 0 selects DefaultSize.
func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{Size: size, Entries: make([]Entry, 0, size)}
}

// Push inserts an attempt in time order, evicting the oldest entry past Size.
// Pushing an attempt already present is a no-op.
func (w *Window) Push(a model.Attempt) {
	e := entryOf(a)

	if e.At.After(w.Stats.LastAttemptAt) {
		w.Stats.LastAttemptAt = e.At
	}
	if e.Success && e.At.After(w.Stats.LastSuccessAt) {
		w.Stats.LastSuccessAt = e.At
	}

	pos := len(w.Entries)
	for i, cur := range w.Entries {
		if cur.same(e) {
			return
		}
		if e.newer(cur) {
			pos = i
			break
		}
	}
	if pos >= w.Size {
		return
	}

	w.Entries = append(w.Entries, Entry{})
	copy(w.Entries[pos+1:], w.Entries[pos:])
	w.Entries[pos] = e
	w.count(e, 1)

	if len(w.Entries) > w.Size {
		evicted := w.Entries[len(w.Entries)-1]
		w.Entries = w.Entries[:len(w.Entries)-1]
		w.count(evicted, -1)
	}
	if pos <= w.Stats.CurrentSuccessStreak || pos <= w.Stats.CurrentFailStreak {
		w.streaks()
	}
}

func (w *Window) count(e Entry, delta int) {
	w.Stats.Total += delta
	if e.Success {
		w.Stats.Successes += delta
	} else {
		w.Stats.Failures += delta
	}
}

// streaks recounts the runs at the head of the window.
func (w *Window) streaks() {
	w.Stats.CurrentSuccessStreak, w.Stats.CurrentFailStreak = 0, 0
	if len(w.Entries) == 0 {
		return
	}
	head := w.Entries[0].Success
	n := 0
	for _, e := range w.Entries {
		if e.Success != head {
			break
		}
		n++
	}
	if head {
		w.Stats.CurrentSuccessStreak = n
	} else {
		w.Stats.CurrentFailStreak = n
	}
}

// Rebuild recomputes a window of the given size from the attempt log.
func Rebuild(attempts []model.Attempt, size int) *Window {
	w := New(size)
	for _, a := range attempts {
		w.Push(a)
	}
	return w
}

// Len returns the number of entries held.
func (w *Window) Len() int { return len(w.Entries) }

// SuccessRate returns successes / total, or 0 for an empty window.
func (w *Window) SuccessRate() float64 {
	if w.Stats.Total == 0 {
		return 0
	}
	return float64(w.Stats.Successes) / float64(w.Stats.Total)
}

// SuccessesInLast counts successes among the newest k entries.
func (w *Window) SuccessesInLast(k int) int {
	if k > len(w.Entries) {
		k = len(w.Entries)
	}
	n := 0
	for _, e := range w.Entries[:k] {
		if e.Success {
			n++
		}
	}
	return n
}

// LastSuccess reports whether the newest entry is a success.
func (w *Window) LastSuccess() bool {
	return len(w.Entries) > 0 && w.Entries[0].Success
}

// Clone returns a deep copy.
func (w *Window) Clone() *Window {
	c := *w
	c.Entries = append(make([]Entry, 0, w.Size), w.Entries...)
	return &c
}
