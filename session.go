package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Messages
// ===========================

const (
	MsgSessionNotConnected   = "I'm not connected to a voice channel"
	MsgSessionNothingPlaying = "Nothing is playing right now"
	MsgSessionAlreadyPaused  = "Playback is already paused"
	MsgSessionNotPaused      = "Playback is not paused"
	MsgSessionQueueEmpty     = "The queue is empty"
	MsgSessionVolumeRange    = "Volume must be between 0 and 100"
	MsgSessionSeekLive       = "Can't seek in a live stream"
	MsgSessionSeekRange      = "Position must be between 0:00 and %s"
	MsgSessionClosing        = "This session is shutting down"

	MsgSessionCreated     = "Guild %s: session created in channel %s"
	MsgSessionMoved       = "Guild %s: moved to channel %s"
	MsgSessionDestroyed   = "Guild %s: session destroyed (%s)"
	MsgSessionJoinFail    = "Guild %s: voice connect failed: %v"
	MsgSessionNowPlaying  = "Guild %s: now playing %q (seq %d)"
	MsgSessionPlayFail    = "Guild %s: failed to start %q: %v"
	MsgSessionExhausted   = "Guild %s: queue exhausted"
	MsgSessionAutoplay    = "Guild %s: autoplay picked %q"
	MsgSessionGaveUp      = "Guild %s: stopping after %d consecutive playback failures"
	MsgSessionIdleArmed   = "Guild %s: idle disconnect armed in %s (%s)"
	MsgSessionIdleCancel  = "Guild %s: idle disconnect cancelled (%s)"
	MsgSessionIdleFired   = "Guild %s: idle disconnect firing"
	MsgSessionIdleStale   = "Guild %s: stale idle timer ignored"
	MsgSessionIdleAborted = "Guild %s: idle disconnect aborted at fire time (%s)"
)

// maxErrorStreak caps consecutive errored track ends before the session
// stops advancing; without it a failing track under loop-track would retry
// forever.
const maxErrorStreak = 3

// ===========================
// Errors
// ===========================

// UserError is a failure caused by the invoking user (wrong state, bad
// argument). Handlers show its message verbatim instead of a generic
// playback error.
type UserError struct {
	msg string
}

func (e *UserError) Error() string {
	return e.msg
}

func userErrorf(format string, args ...interface{}) error {
	return &UserError{msg: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err (or anything it wraps) is a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// ===========================
// Session State
// ===========================

// SessionState is the lifecycle phase of one guild's playback session. There
// is no stored Idle state: an idle guild simply has no session in the
// registry.
type SessionState int

const (
	StateConnected SessionState = iota
	StatePlaying
	StatePaused
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// idleReason records why an idle timer was armed; the fire-time re-check
// differs per reason.
type idleReason int

const (
	idleEmptyChannel idleReason = iota
	idleNothingPlaying
)

func (r idleReason) String() string {
	if r == idleEmptyChannel {
		return "channel empty"
	}
	return "nothing playing"
}

// ===========================
// Notifier
// ===========================

// PlaybackNotifier receives engine events destined for a text channel. The
// engine never formats user-facing text itself. Implementations must
// tolerate concurrent calls for different guilds.
type PlaybackNotifier interface {
	NowPlaying(guildID, channelID snowflake.ID, track *Track)
	PlaybackError(guildID, channelID snowflake.ID, track *Track, message string)
	SessionEnded(guildID, channelID snowflake.ID, reason string)
}

// ===========================
// Playback Session
// ===========================

// PlaybackSession is the per-guild playback state machine. One mutex guards
// every field; slow I/O (voice transport, resolver, database) always runs
// with the mutex released, and in-flight transitions are validated against
// playSeq after reacquiring it.
type PlaybackSession struct {
	GuildID snowflake.ID

	mu             sync.Mutex
	state          SessionState
	queue          *TrackQueue
	volume         int
	filters        lavalink.Filters
	filterName     string
	autoplay       bool
	stay           bool
	voiceChannelID snowflake.ID
	textChannelID  snowflake.ID

	// playSeq identifies the current play generation. Every transition that
	// changes what should be playing increments it; stale async events and
	// raced advances compare against it and bail out.
	playSeq uint64

	idleTimer   *time.Timer
	idleGen     uint64
	idleWhy     idleReason
	errorStreak int
	createdAt   time.Time
}

func newPlaybackSession(guildID, voiceChannelID, textChannelID snowflake.ID, volume int, autoplay bool) *PlaybackSession {
	return &PlaybackSession{
		GuildID:        guildID,
		state:          StateConnected,
		queue:          NewTrackQueue(),
		volume:         volume,
		autoplay:       autoplay,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
		createdAt:      time.Now(),
	}
}

// SessionSnapshot is a consistent copy of session state for rendering.
type SessionSnapshot struct {
	State          SessionState
	Current        *Track
	Upcoming       []*Track
	Volume         int
	Loop           LoopMode
	Autoplay       bool
	Stay           bool
	FilterName     string
	VoiceChannelID snowflake.ID
	Uptime         time.Duration
}

// ===========================
// Playback System
// ===========================

// PlaybackSystem is the session registry and the entry point for every
// playback operation. Get-or-create is atomic: two concurrent joins for one
// guild always converge on a single session.
type PlaybackSystem struct {
	mu       sync.RWMutex
	sessions map[snowflake.ID]*PlaybackSession
	client   *bot.Client
	notifier PlaybackNotifier

	transport VoiceTransport

	// Occupancy seam. Nil counts through the gateway caches; tests inject
	// a counter to drive empty-channel transitions without a client.
	occupancyFn func(guildID, channelID snowflake.ID) int
}

var (
	playbackOnce     sync.Once
	playbackInstance *PlaybackSystem
)

// GetPlaybackSystem returns the process-wide playback system.
func GetPlaybackSystem() *PlaybackSystem {
	playbackOnce.Do(func() {
		playbackInstance = &PlaybackSystem{
			sessions:  make(map[snowflake.ID]*PlaybackSession),
			transport: GetTransport(),
		}
		playbackInstance.transport.SetEndHandler(playbackInstance.handleTrackEnd)
	})
	return playbackInstance
}

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		sys := GetPlaybackSystem()
		sys.mu.Lock()
		sys.client = client
		sys.mu.Unlock()
	})
}

// SetNotifier installs the presentation-layer sink for engine events.
func (sys *PlaybackSystem) SetNotifier(n PlaybackNotifier) {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	sys.notifier = n
}

// Get returns the guild's session, nil if none exists.
func (sys *PlaybackSystem) Get(guildID snowflake.ID) *PlaybackSession {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	return sys.sessions[guildID]
}

// Sessions returns a snapshot of all live sessions.
func (sys *PlaybackSystem) Sessions() []*PlaybackSession {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	out := make([]*PlaybackSession, 0, len(sys.sessions))
	for _, s := range sys.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (sys *PlaybackSystem) Count() int {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	return len(sys.sessions)
}

// getOrCreate inserts the session built by mk unless one already exists.
// The existing session always wins a race.
func (sys *PlaybackSystem) getOrCreate(guildID snowflake.ID, mk func() *PlaybackSession) (*PlaybackSession, bool) {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	if existing, ok := sys.sessions[guildID]; ok {
		return existing, false
	}
	s := mk()
	sys.sessions[guildID] = s
	return s, true
}

// remove drops the session from the registry only if it is still the
// registered one, so a replacement created meanwhile is untouched.
func (sys *PlaybackSystem) remove(guildID snowflake.ID, s *PlaybackSession) {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	if sys.sessions[guildID] == s {
		delete(sys.sessions, guildID)
	}
}

// ===========================
// Join / Leave
// ===========================

// Join connects the bot to a voice channel, creating the session if needed.
// Joining the channel the session already occupies is a reported no-op;
// joining a different one moves the connection. Returns the session and
// whether it was already in the target channel.
func (sys *PlaybackSystem) Join(ctx context.Context, guildID, voiceChannelID, textChannelID snowflake.ID) (*PlaybackSession, bool, error) {
	// Settings load happens before any lock; it is database I/O.
	settings, err := GetGuildSettings(ctx, guildID)
	if err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		s, created := sys.getOrCreate(guildID, func() *PlaybackSession {
			return newPlaybackSession(guildID, voiceChannelID, textChannelID, settings.DefaultVolume, settings.Autoplay)
		})

		if created {
			if err := sys.transport.Connect(ctx, guildID, voiceChannelID); err != nil {
				sys.remove(guildID, s)
				LogVoice(MsgSessionJoinFail, guildID, err)
				return nil, false, fmt.Errorf("failed to join voice: %w", err)
			}
			if err := sys.transport.SetVolume(ctx, guildID, settings.DefaultVolume); err != nil {
				LogVoice(MsgGenericError, err)
			}
			LogVoice(MsgSessionCreated, guildID, voiceChannelID)
			sys.recheckOccupancy(guildID)
			return s, false, nil
		}

		s.mu.Lock()
		if s.state == StateDisconnecting {
			// A leave is tearing this one down; replace it.
			s.mu.Unlock()
			sys.remove(guildID, s)
			continue
		}
		s.textChannelID = textChannelID
		if s.voiceChannelID == voiceChannelID {
			s.mu.Unlock()
			return s, true, nil
		}
		s.voiceChannelID = voiceChannelID
		s.mu.Unlock()

		if err := sys.transport.Connect(ctx, guildID, voiceChannelID); err != nil {
			LogVoice(MsgSessionJoinFail, guildID, err)
			return nil, false, fmt.Errorf("failed to move voice channel: %w", err)
		}
		LogVoice(MsgSessionMoved, guildID, voiceChannelID)
		sys.recheckOccupancy(guildID)
		return s, false, nil
	}

	return nil, false, errors.New(MsgSessionClosing)
}

// Leave tears the session down: cancels the idle timer, removes it from the
// registry, and releases the voice connection.
func (sys *PlaybackSystem) Leave(ctx context.Context, guildID snowflake.ID, reason string) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnecting
	s.playSeq++
	s.queue.Clear()
	s.mu.Unlock()

	s.cancelIdle("leaving")
	sys.remove(guildID, s)
	LogVoice(MsgSessionDestroyed, guildID, reason)

	return sys.transport.Disconnect(ctx, guildID)
}

// ===========================
// Queue Operations
// ===========================

// PlayTracks enqueues resolved tracks and starts playback when the session
// is not already playing. Returns whether playback was started by this call.
func (sys *PlaybackSystem) PlayTracks(ctx context.Context, guildID snowflake.ID, tracks []*Track) (bool, error) {
	if len(tracks) == 0 {
		return false, userErrorf(MsgSessionQueueEmpty)
	}
	s := sys.Get(guildID)
	if s == nil {
		return false, userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.mu.Unlock()
		return false, userErrorf(MsgSessionClosing)
	}
	s.queue.EnqueueAll(tracks)
	if s.state == StatePlaying || s.state == StatePaused {
		s.mu.Unlock()
		return false, nil
	}
	s.errorStreak = 0
	fromSeq := s.playSeq
	s.mu.Unlock()

	s.advanceFrom(ctx, sys, fromSeq, EndFinished, true)
	return true, nil
}

// Skip ends the current track immediately and advances with the same logic
// as a natural end, loop policy included. Returns the skipped track.
func (sys *PlaybackSystem) Skip(ctx context.Context, guildID snowflake.ID) (*Track, error) {
	s := sys.Get(guildID)
	if s == nil {
		return nil, userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state != StatePlaying && s.state != StatePaused {
		s.mu.Unlock()
		return nil, userErrorf(MsgSessionNothingPlaying)
	}
	skipped := s.queue.Current()
	s.errorStreak = 0
	fromSeq := s.playSeq
	s.mu.Unlock()

	s.advanceFrom(ctx, sys, fromSeq, EndSkipped, false)
	return skipped, nil
}

// Stop halts playback and clears the whole queue, current track included.
func (sys *PlaybackSystem) Stop(ctx context.Context, guildID snowflake.ID) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state == StateDisconnecting {
		s.mu.Unlock()
		return userErrorf(MsgSessionClosing)
	}
	s.queue.Clear()
	s.state = StateConnected
	s.playSeq++
	s.errorStreak = 0
	stay := s.stay
	s.mu.Unlock()

	if err := sys.transport.Stop(ctx, guildID); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	if !stay {
		s.armIdle(sys, idleNothingPlaying)
	}
	return nil
}

// Pause suspends the playing track.
func (sys *PlaybackSystem) Pause(ctx context.Context, guildID snowflake.ID) error {
	return sys.setPaused(ctx, guildID, true)
}

// Resume continues a paused track.
func (sys *PlaybackSystem) Resume(ctx context.Context, guildID snowflake.ID) error {
	return sys.setPaused(ctx, guildID, false)
}

func (sys *PlaybackSystem) setPaused(ctx context.Context, guildID snowflake.ID, paused bool) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	switch s.state {
	case StatePlaying:
		if !paused {
			s.mu.Unlock()
			return userErrorf(MsgSessionNotPaused)
		}
		s.state = StatePaused
	case StatePaused:
		if paused {
			s.mu.Unlock()
			return userErrorf(MsgSessionAlreadyPaused)
		}
		s.state = StatePlaying
	default:
		s.mu.Unlock()
		return userErrorf(MsgSessionNothingPlaying)
	}
	fromSeq := s.playSeq
	s.mu.Unlock()

	if err := sys.transport.Pause(ctx, guildID, paused); err != nil {
		// Roll the state back unless something else transitioned meanwhile.
		s.mu.Lock()
		if s.playSeq == fromSeq && (s.state == StatePlaying || s.state == StatePaused) {
			if paused {
				s.state = StatePlaying
			} else {
				s.state = StatePaused
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to update playback: %w", err)
	}
	return nil
}

// Seek jumps to a position within the current track. Rejected for live
// streams and for positions outside the track.
func (sys *PlaybackSystem) Seek(ctx context.Context, guildID snowflake.ID, position time.Duration) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state != StatePlaying && s.state != StatePaused {
		s.mu.Unlock()
		return userErrorf(MsgSessionNothingPlaying)
	}
	current := s.queue.Current()
	s.mu.Unlock()

	if current == nil {
		return userErrorf(MsgSessionNothingPlaying)
	}
	if current.Duration <= 0 {
		return userErrorf(MsgSessionSeekLive)
	}
	if position < 0 || position > current.Duration {
		return userErrorf(MsgSessionSeekRange, FormatTrackTime(current.Duration))
	}

	if err := sys.transport.Seek(ctx, guildID, position); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// SetVolume applies a 0-100 volume to the live player and persists it as
// the guild default.
func (sys *PlaybackSystem) SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	if volume < 0 || volume > 100 {
		return userErrorf(MsgSessionVolumeRange)
	}
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()

	if err := sys.transport.SetVolume(ctx, guildID, volume); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	if err := SetDefaultVolume(ctx, guildID, volume); err != nil {
		LogDatabase(MsgGenericError, err)
	}
	return nil
}

// SetLoop sets the loop mode and returns it.
func (sys *PlaybackSystem) SetLoop(guildID snowflake.ID, mode LoopMode) (LoopMode, error) {
	s := sys.Get(guildID)
	if s == nil {
		return LoopOff, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	s.queue.SetMode(mode)
	s.mu.Unlock()
	return mode, nil
}

// CycleLoop advances Off -> Track -> Queue -> Off and returns the new mode.
func (sys *PlaybackSystem) CycleLoop(guildID snowflake.ID) (LoopMode, error) {
	s := sys.Get(guildID)
	if s == nil {
		return LoopOff, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	next := (s.queue.Mode() + 1) % 3
	s.queue.SetMode(next)
	s.mu.Unlock()
	return next, nil
}

// SetAutoplay flips related-track continuation and persists the choice.
func (sys *PlaybackSystem) SetAutoplay(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	s.autoplay = enabled
	s.mu.Unlock()

	if err := SetAutoplaySetting(ctx, guildID, enabled); err != nil {
		LogDatabase(MsgGenericError, err)
	}
	return nil
}

// SetStay flips 24/7 mode. Enabling cancels any pending idle disconnect;
// disabling re-evaluates whether one should be armed. The flag is
// deliberately in-memory only and resets on restart.
func (sys *PlaybackSystem) SetStay(guildID snowflake.ID, enabled bool) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	s.stay = enabled
	s.mu.Unlock()

	if enabled {
		s.cancelIdle("24/7 enabled")
	} else {
		sys.recheckOccupancy(guildID)
		s.mu.Lock()
		idleNow := s.state == StateConnected
		s.mu.Unlock()
		if idleNow {
			s.armIdle(sys, idleNothingPlaying)
		}
	}
	return nil
}

// SetFilters passes a filter chain through to the player. The engine treats
// the chain as opaque.
func (sys *PlaybackSystem) SetFilters(ctx context.Context, guildID snowflake.ID, name string, filters lavalink.Filters) error {
	s := sys.Get(guildID)
	if s == nil {
		return userErrorf(MsgSessionNotConnected)
	}

	s.mu.Lock()
	if s.state != StatePlaying && s.state != StatePaused {
		s.mu.Unlock()
		return userErrorf(MsgSessionNothingPlaying)
	}
	s.filters = filters
	s.filterName = name
	s.mu.Unlock()

	if err := sys.transport.SetFilters(ctx, guildID, filters); err != nil {
		return fmt.Errorf("failed to apply filters: %w", err)
	}
	return nil
}

// RemoveTrack removes the pending track at a 1-based position.
func (sys *PlaybackSystem) RemoveTrack(guildID snowflake.ID, position int) (*Track, error) {
	s := sys.Get(guildID)
	if s == nil {
		return nil, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	removed, err := s.queue.RemoveAt(position)
	s.mu.Unlock()
	if err != nil {
		return nil, userErrorf("%s", err.Error())
	}
	return removed, nil
}

// ClearQueue drops pending tracks without touching the playing one.
func (sys *PlaybackSystem) ClearQueue(guildID snowflake.ID) (int, error) {
	s := sys.Get(guildID)
	if s == nil {
		return 0, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	n := s.queue.Count()
	s.queue.ClearPending()
	s.mu.Unlock()
	return n, nil
}

// ShuffleQueue randomizes the pending tracks.
func (sys *PlaybackSystem) ShuffleQueue(guildID snowflake.ID) (int, error) {
	s := sys.Get(guildID)
	if s == nil {
		return 0, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	n := s.queue.Count()
	if n > 0 {
		s.queue.Shuffle()
	}
	s.mu.Unlock()
	if n == 0 {
		return 0, userErrorf(MsgSessionQueueEmpty)
	}
	return n, nil
}

// Snapshot returns a consistent copy of the session for rendering, nil
// error only when a session exists.
func (sys *PlaybackSystem) Snapshot(guildID snowflake.ID) (*SessionSnapshot, error) {
	s := sys.Get(guildID)
	if s == nil {
		return nil, userErrorf(MsgSessionNotConnected)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SessionSnapshot{
		State:          s.state,
		Current:        s.queue.Current(),
		Upcoming:       s.queue.Items(),
		Volume:         s.volume,
		Loop:           s.queue.Mode(),
		Autoplay:       s.autoplay,
		Stay:           s.stay,
		FilterName:     s.filterName,
		VoiceChannelID: s.voiceChannelID,
		Uptime:         time.Since(s.createdAt),
	}, nil
}

// Position returns the playhead of the guild's current track.
func (sys *PlaybackSystem) Position(guildID snowflake.ID) time.Duration {
	return sys.transport.Position(guildID)
}

// ===========================
// Advance Engine
// ===========================

// handleTrackEnd receives asynchronous end events from the transport,
// already off the node's event goroutine.
func (sys *PlaybackSystem) handleTrackEnd(guildID snowflake.ID, seq uint64, kind TrackEndKind) {
	s := sys.Get(guildID)
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.advanceFrom(ctx, sys, seq, kind, false)
}

// advanceFrom is the only path that moves playback forward. fromSeq is the
// play generation the caller observed; if another transition has bumped it
// since, this advance is stale and does nothing — that is what keeps a
// natural end and a concurrent skip from both drawing a track. fresh draws
// the queue head bypassing loop policy (starting from idle); otherwise the
// loop policy decides what plays next.
func (s *PlaybackSession) advanceFrom(ctx context.Context, sys *PlaybackSystem, fromSeq uint64, kind TrackEndKind, fresh bool) {
	for {
		s.mu.Lock()
		if s.playSeq != fromSeq || s.state == StateDisconnecting {
			s.mu.Unlock()
			return
		}

		if kind == EndErrored {
			s.errorStreak++
			if s.errorStreak >= maxErrorStreak {
				streak := s.errorStreak
				s.errorStreak = 0
				s.state = StateConnected
				s.playSeq++
				stay := s.stay
				textCh := s.textChannelID
				s.mu.Unlock()

				LogVoice(MsgSessionGaveUp, s.GuildID, streak)
				_ = sys.transport.Stop(ctx, s.GuildID)
				sys.notifyError(s.GuildID, textCh, nil, fmt.Sprintf("Stopping after %d failed tracks in a row", streak))
				if !stay {
					s.armIdle(sys, idleNothingPlaying)
				}
				return
			}
		} else {
			s.errorStreak = 0
		}

		var next *Track
		if fresh {
			next = s.queue.PopPending()
		} else {
			next = s.queue.DequeueNext()
		}
		fresh = false

		if next == nil {
			s.advanceExhausted(ctx, sys, fromSeq, kind)
			return
		}

		s.playSeq++
		seq := s.playSeq
		s.state = StatePlaying
		textCh := s.textChannelID
		s.mu.Unlock()

		err := sys.transport.Play(ctx, s.GuildID, next, seq)
		if err == nil {
			LogVoice(MsgSessionNowPlaying, s.GuildID, next.Title, seq)
			s.cancelIdle("track started")
			sys.notifyNowPlaying(s.GuildID, textCh, next)
			return
		}

		LogVoice(MsgSessionPlayFail, s.GuildID, next.Title, err)
		sys.notifyError(s.GuildID, textCh, next, err.Error())
		fromSeq = seq
		kind = EndErrored
	}
}

// advanceExhausted handles an empty draw: try autoplay, otherwise go idle.
// Called with s.mu held; releases it.
func (s *PlaybackSession) advanceExhausted(ctx context.Context, sys *PlaybackSystem, fromSeq uint64, kind TrackEndKind) {
	finished := s.queue.Current()
	tryAutoplay := s.autoplay && finished != nil && kind != EndErrored
	s.mu.Unlock()

	if tryAutoplay {
		related := GetResolver().RelatedTrack(ctx, finished)
		if related != nil {
			s.mu.Lock()
			if s.playSeq != fromSeq || s.state == StateDisconnecting {
				s.mu.Unlock()
				return
			}
			if !s.queue.IsEmpty() {
				// Someone queued tracks during the search; they win.
				s.mu.Unlock()
				s.advanceFrom(ctx, sys, fromSeq, EndFinished, true)
				return
			}
			s.queue.SetCurrent(related)
			s.playSeq++
			seq := s.playSeq
			s.state = StatePlaying
			textCh := s.textChannelID
			s.mu.Unlock()

			LogVoice(MsgSessionAutoplay, s.GuildID, related.Title)
			if err := sys.transport.Play(ctx, s.GuildID, related, seq); err != nil {
				LogVoice(MsgSessionPlayFail, s.GuildID, related.Title, err)
				sys.notifyError(s.GuildID, textCh, related, err.Error())
				s.advanceFrom(ctx, sys, seq, EndErrored, false)
				return
			}
			s.cancelIdle("track started")
			sys.notifyNowPlaying(s.GuildID, textCh, related)
			return
		}
	}

	s.mu.Lock()
	if s.playSeq != fromSeq || s.state == StateDisconnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.playSeq++
	stay := s.stay
	s.mu.Unlock()

	LogVoice(MsgSessionExhausted, s.GuildID)
	// A skipped track is still playing on the node at this point; a natural
	// end leaves nothing loaded and this is a no-op.
	_ = sys.transport.Stop(ctx, s.GuildID)
	if !stay {
		s.armIdle(sys, idleNothingPlaying)
	}
}

// ===========================
// Idle Timer
// ===========================

// armIdle schedules the deferred disconnect, superseding any pending one.
// The generation counter makes a superseded or cancelled timer a no-op even
// if it has already fired and is waiting on the lock.
func (s *PlaybackSession) armIdle(sys *PlaybackSystem, why idleReason) {
	timeout := 120 * time.Second
	if GlobalConfig != nil && GlobalConfig.IdleTimeout > 0 {
		timeout = GlobalConfig.IdleTimeout
	}

	s.mu.Lock()
	if s.state == StateDisconnecting || s.stay {
		s.mu.Unlock()
		return
	}
	s.idleGen++
	gen := s.idleGen
	s.idleWhy = why
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(timeout, func() {
		safeGo(func() { s.idleFired(sys, gen, why) })
	})
	s.mu.Unlock()

	LogLifecycle(MsgSessionIdleArmed, s.GuildID, timeout, why)
}

// cancelIdle stops any pending idle disconnect.
func (s *PlaybackSession) cancelIdle(reason string) {
	s.mu.Lock()
	had := s.idleTimer != nil
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()

	if had {
		LogLifecycle(MsgSessionIdleCancel, s.GuildID, reason)
	}
}

// idleFired runs when the deferred disconnect expires. Every condition is
// re-evaluated here, not trusted from arm time: the timer may be stale, the
// channel may have refilled, 24/7 may have been switched on, playback may
// have restarted.
func (s *PlaybackSession) idleFired(sys *PlaybackSystem, gen uint64, why idleReason) {
	s.mu.Lock()
	if gen != s.idleGen || s.state == StateDisconnecting {
		s.mu.Unlock()
		LogLifecycle(MsgSessionIdleStale, s.GuildID)
		return
	}
	if s.stay {
		s.mu.Unlock()
		LogLifecycle(MsgSessionIdleAborted, s.GuildID, "24/7 enabled")
		return
	}
	s.idleTimer = nil
	state := s.state
	voiceCh := s.voiceChannelID
	textCh := s.textChannelID
	s.mu.Unlock()

	switch why {
	case idleEmptyChannel:
		if sys.countListeners(s.GuildID, voiceCh) > 0 {
			LogLifecycle(MsgSessionIdleAborted, s.GuildID, "channel occupied again")
			return
		}
	case idleNothingPlaying:
		if state == StatePlaying || state == StatePaused {
			LogLifecycle(MsgSessionIdleAborted, s.GuildID, "playback resumed")
			return
		}
	}

	LogLifecycle(MsgSessionIdleFired, s.GuildID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sys.Leave(ctx, s.GuildID, "idle timeout"); err != nil {
		LogLifecycle(MsgGenericError, err)
		return
	}
	sys.notifySessionEnded(s.GuildID, textCh, "Left voice due to inactivity")
}

// ===========================
// Notifications
// ===========================

func (sys *PlaybackSystem) notifyNowPlaying(guildID, channelID snowflake.ID, track *Track) {
	sys.mu.RLock()
	n := sys.notifier
	sys.mu.RUnlock()
	if n == nil || channelID == 0 {
		return
	}
	n.NowPlaying(guildID, channelID, track)
}

func (sys *PlaybackSystem) notifyError(guildID, channelID snowflake.ID, track *Track, message string) {
	sys.mu.RLock()
	n := sys.notifier
	sys.mu.RUnlock()
	if n == nil || channelID == 0 {
		return
	}
	n.PlaybackError(guildID, channelID, track, message)
}

func (sys *PlaybackSystem) notifySessionEnded(guildID, channelID snowflake.ID, reason string) {
	sys.mu.RLock()
	n := sys.notifier
	sys.mu.RUnlock()
	if n == nil || channelID == 0 {
		return
	}
	n.SessionEnded(guildID, channelID, reason)
}
