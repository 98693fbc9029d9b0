package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Track Model
// ============================================================================

// TrackSource identifies which catalog a track was resolved from.
type TrackSource int

const (
	SourceStream TrackSource = iota // direct stream URL (yt-dlp extraction or arbitrary URL)
	SourceYouTube
	SourceYTMusic
	SourceSpotify
)

func (s TrackSource) String() string {
	switch s {
	case SourceYouTube:
		return "YouTube"
	case SourceYTMusic:
		return "YouTube Music"
	case SourceSpotify:
		return "Spotify"
	default:
		return "Stream"
	}
}

// Track is a resolved, playable item. Fields are set once by the resolver
// and never mutated afterwards.
type Track struct {
	URI       string
	Title     string
	Author    string
	Duration  time.Duration // 0 means live stream / unknown
	Artwork   string
	Source    TrackSource
	Requester snowflake.ID
}

// ============================================================================
// Track Queue
// ============================================================================

// LoopMode controls how DequeueNext advances past a finished track.
type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "Track"
	case LoopQueue:
		return "Queue"
	default:
		return "Off"
	}
}

// TrackQueue is the pending track list plus the currently playing track for
// one session. It is not safe for concurrent use; the owning session's lock
// guards every call.
//
// current is non-nil exactly when something has been dequeued since the last
// Clear. It keeps pointing at the last played track after the pending list
// runs out, which is what autoplay builds its related-track search from.
type TrackQueue struct {
	items   []*Track
	current *Track
	mode    LoopMode
}

func NewTrackQueue() *TrackQueue {
	return &TrackQueue{}
}

// Enqueue appends a track to the pending list.
func (q *TrackQueue) Enqueue(t *Track) {
	q.items = append(q.items, t)
}

// EnqueueAll appends tracks preserving their order.
func (q *TrackQueue) EnqueueAll(tracks []*Track) {
	q.items = append(q.items, tracks...)
}

// DequeueNext returns the next track to play and makes it current, applying
// the loop policy:
//
//	LoopTrack: the current track is returned again, pending list untouched.
//	LoopQueue: the finished current track goes to the tail, then the head is drawn.
//	LoopOff:   plain FIFO pop.
//
// Returns nil when exhausted. current survives exhaustion.
func (q *TrackQueue) DequeueNext() *Track {
	switch q.mode {
	case LoopTrack:
		if q.current != nil {
			return q.current
		}
	case LoopQueue:
		if q.current != nil {
			q.items = append(q.items, q.current)
		}
	}

	if len(q.items) == 0 {
		return nil
	}

	next := q.items[0]
	q.items = q.items[1:]
	q.current = next
	return next
}

// PopPending removes and returns the head of the pending list, bypassing
// loop policy, and makes it current. Starting playback from an idle session
// always draws the freshly queued track; loop policy only governs what
// happens when a playing track ends.
func (q *TrackQueue) PopPending() *Track {
	if len(q.items) == 0 {
		return nil
	}
	next := q.items[0]
	q.items = q.items[1:]
	q.current = next
	return next
}

// Current returns the playing (or last played) track, nil if nothing has
// been dequeued since the last Clear.
func (q *TrackQueue) Current() *Track {
	return q.current
}

// SetCurrent replaces the current track without touching the pending list.
// Used when a track starts playing that was never enqueued (autoplay).
func (q *TrackQueue) SetCurrent(t *Track) {
	q.current = t
}

// Items returns a snapshot of the pending list in play order.
func (q *TrackQueue) Items() []*Track {
	snapshot := make([]*Track, len(q.items))
	copy(snapshot, q.items)
	return snapshot
}

// Count returns the number of pending tracks (current excluded).
func (q *TrackQueue) Count() int {
	return len(q.items)
}

// IsEmpty reports whether the pending list is empty.
func (q *TrackQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// RemoveAt removes and returns the pending track at a 1-based position.
// Out-of-range positions fail without mutating the queue.
func (q *TrackQueue) RemoveAt(position int) (*Track, error) {
	if position < 1 || position > len(q.items) {
		return nil, fmt.Errorf("position must be between 1 and %d", len(q.items))
	}
	idx := position - 1
	removed := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return removed, nil
}

// Clear drops the pending list and forgets the current track. This is the
// stop/teardown reset; ClearPending keeps playback going.
func (q *TrackQueue) Clear() {
	q.items = nil
	q.current = nil
}

// ClearPending drops only the pending list; the playing track is unaffected.
func (q *TrackQueue) ClearPending() {
	q.items = nil
}

// Shuffle randomizes the pending list. The playing track never moves.
func (q *TrackQueue) Shuffle() {
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

func (q *TrackQueue) Mode() LoopMode {
	return q.mode
}

func (q *TrackQueue) SetMode(mode LoopMode) {
	q.mode = mode
}
