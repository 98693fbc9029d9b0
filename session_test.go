package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Starting Playback
// ===========================

func TestPlayTracksStartsPlayback(t *testing.T) {
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	started, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	if err != nil {
		t.Fatalf("PlayTracks() error = %v", err)
	}
	if !started {
		t.Fatal("PlayTracks() should report playback started")
	}

	plays := tr.plays()
	if len(plays) != 1 || plays[0].track.Title != "a" {
		t.Fatalf("transport plays = %v, want one play of a", plays)
	}
	if plays[0].seq == 0 {
		t.Fatal("play must carry a non-zero generation")
	}
	if got := sessionState(s); got != StatePlaying {
		t.Fatalf("state = %s, want Playing", got)
	}
	if n.playingCount() != 1 {
		t.Fatalf("now-playing notifications = %d, want 1", n.playingCount())
	}

	snap, err := sys.Snapshot(guild)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Current == nil || snap.Current.Title != "a" {
		t.Fatalf("snapshot current = %v, want a", snap.Current)
	}
}

func TestPlayTracksWhilePlayingOnlyQueues(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if _, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")}); err != nil {
		t.Fatalf("first PlayTracks() error = %v", err)
	}
	started, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("b"), mkTrack("c")})
	if err != nil {
		t.Fatalf("second PlayTracks() error = %v", err)
	}
	if started {
		t.Fatal("queuing into a playing session must not restart playback")
	}
	if tr.playCount() != 1 {
		t.Fatalf("transport plays = %d, want still 1", tr.playCount())
	}

	snap, _ := sys.Snapshot(guild)
	if len(snap.Upcoming) != 2 || snap.Upcoming[0].Title != "b" || snap.Upcoming[1].Title != "c" {
		t.Fatalf("upcoming = %v, want b then c", snap.Upcoming)
	}
}

func TestPlayTracksValidation(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	ctx := context.Background()

	if _, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")}); !IsUserError(err) {
		t.Fatalf("no session should be a user error, got %v", err)
	}

	s := addTestSession(t, sys, guild)
	if _, err := sys.PlayTracks(ctx, guild, nil); !IsUserError(err) {
		t.Fatalf("empty track list should be a user error, got %v", err)
	}

	s.mu.Lock()
	s.state = StateDisconnecting
	s.mu.Unlock()
	if _, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")}); !IsUserError(err) {
		t.Fatalf("closing session should be a user error, got %v", err)
	}
}

// ===========================
// Track End / Advance
// ===========================

func TestTrackEndAdvancesToNext(t *testing.T) {
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if _, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")}); err != nil {
		t.Fatalf("PlayTracks() error = %v", err)
	}
	first := tr.plays()[0]

	sys.handleTrackEnd(guild, first.seq, EndFinished)

	plays := tr.plays()
	if len(plays) != 2 || plays[1].track.Title != "b" {
		t.Fatalf("plays = %v, want a then b", plays)
	}
	if plays[1].seq <= first.seq {
		t.Fatal("advancing must bump the play generation")
	}
	if got := n.playingTitles(); len(got) != 2 || got[1] != "b" {
		t.Fatalf("now-playing notifications = %v, want [a b]", got)
	}
}

func TestTrackEndExhaustionGoesIdle(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	seq := tr.plays()[0].seq

	sys.handleTrackEnd(guild, seq, EndFinished)

	if got := sessionState(s); got != StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	if !sessionHasIdleTimer(s) {
		t.Fatal("exhaustion must arm the idle timer")
	}

	// The finished track remains visible until an explicit stop or clear.
	snap, _ := sys.Snapshot(guild)
	if snap.Current == nil || snap.Current.Title != "a" {
		t.Fatalf("current after exhaustion = %v, want a", snap.Current)
	}
}

func TestTrackEndUnknownGuildIgnored(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	sys.handleTrackEnd(snowflake.ID(424242), 1, EndFinished)
}

func TestStaleEndEventDiscarded(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})
	staleSeq := tr.plays()[0].seq

	if _, err := sys.Skip(ctx, guild); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if tr.playCount() != 2 {
		t.Fatalf("plays after skip = %d, want 2", tr.playCount())
	}

	// The node now reports the skipped track's natural end; the generation
	// moved on, so nothing may advance again.
	sys.handleTrackEnd(guild, staleSeq, EndFinished)

	if tr.playCount() != 2 {
		t.Fatalf("stale end advanced playback: plays = %d", tr.playCount())
	}
	snap, _ := sys.Snapshot(guild)
	if snap.Current == nil || snap.Current.Title != "b" {
		t.Fatalf("current = %v, want b", snap.Current)
	}
}

func TestLoopTrackReplaysOnFinish(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})
	if _, err := sys.SetLoop(guild, LoopTrack); err != nil {
		t.Fatalf("SetLoop() error = %v", err)
	}

	sys.handleTrackEnd(guild, tr.plays()[0].seq, EndFinished)

	plays := tr.plays()
	if len(plays) != 2 || plays[1].track.Title != "a" {
		t.Fatalf("plays = %v, want a replayed", plays)
	}
	snap, _ := sys.Snapshot(guild)
	if len(snap.Upcoming) != 1 || snap.Upcoming[0].Title != "b" {
		t.Fatalf("upcoming = %v, want b untouched", snap.Upcoming)
	}
}

func TestLoopQueueRotates(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})
	_, _ = sys.SetLoop(guild, LoopQueue)

	sys.handleTrackEnd(guild, tr.plays()[0].seq, EndFinished)
	sys.handleTrackEnd(guild, tr.plays()[1].seq, EndFinished)

	var titles []string
	for _, p := range tr.plays() {
		titles = append(titles, p.track.Title)
	}
	want := []string{"a", "b", "a"}
	if len(titles) != len(want) {
		t.Fatalf("plays = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("plays = %v, want %v", titles, want)
		}
	}
}

// ===========================
// Skip
// ===========================

func TestSkipAdvances(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})

	skipped, err := sys.Skip(ctx, guild)
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if skipped == nil || skipped.Title != "a" {
		t.Fatalf("skipped = %v, want a", skipped)
	}

	plays := tr.plays()
	if len(plays) != 2 || plays[1].track.Title != "b" {
		t.Fatalf("plays = %v, want b started", plays)
	}
}

func TestSkipLastTrackGoesIdle(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})

	skipped, err := sys.Skip(ctx, guild)
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if skipped.Title != "a" {
		t.Fatalf("skipped = %q, want a", skipped.Title)
	}
	if got := sessionState(s); got != StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	if tr.stopCount() == 0 {
		t.Fatal("skipping the last track must stop the player")
	}
	if !sessionHasIdleTimer(s) {
		t.Fatal("skipping into an empty queue must arm the idle timer")
	}
}

func TestSkipHonorsLoopTrack(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	_, _ = sys.SetLoop(guild, LoopTrack)

	skipped, err := sys.Skip(ctx, guild)
	if err != nil {
		t.Fatalf("Skip() error = %v", err)
	}
	if skipped.Title != "a" {
		t.Fatalf("skipped = %q, want a", skipped.Title)
	}

	plays := tr.plays()
	if len(plays) != 2 || plays[1].track.Title != "a" {
		t.Fatalf("plays = %v, want a replayed under track loop", plays)
	}
}

func TestSkipRequiresPlayback(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)

	if _, err := sys.Skip(context.Background(), guild); !IsUserError(err) {
		t.Fatalf("skip on a connected-only session should be a user error, got %v", err)
	}
}

// ===========================
// Playback Errors
// ===========================

func TestPlayErrorFallsThroughToNext(t *testing.T) {
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	tr.failTitle("bad")
	_, err := sys.PlayTracks(ctx, guild, []*Track{mkTrack("bad"), mkTrack("good")})
	if err != nil {
		t.Fatalf("PlayTracks() error = %v", err)
	}

	plays := tr.plays()
	if len(plays) != 2 || plays[0].track.Title != "bad" || plays[1].track.Title != "good" {
		t.Fatalf("plays = %v, want bad attempted then good", plays)
	}
	if got := sessionState(s); got != StatePlaying {
		t.Fatalf("state = %s, want Playing", got)
	}
	if n.errorCount() != 1 {
		t.Fatalf("error notifications = %d, want 1", n.errorCount())
	}
	snap, _ := sys.Snapshot(guild)
	if snap.Current.Title != "good" {
		t.Fatalf("current = %q, want good", snap.Current.Title)
	}
}

func TestErrorStreakGivesUp(t *testing.T) {
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	// Track loop turns one dead URI into an endless replay; the streak
	// breaker has to cut it off instead of hammering the node.
	tr.failTitle("dead")
	_, _ = sys.SetLoop(guild, LoopTrack)
	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("dead")})

	if got := tr.playCount(); got != maxErrorStreak {
		t.Fatalf("play attempts = %d, want %d", got, maxErrorStreak)
	}
	if got := n.errorCount(); got != maxErrorStreak+1 {
		t.Fatalf("error notifications = %d, want one per attempt plus the give-up notice", got)
	}
	if got := sessionState(s); got != StateConnected {
		t.Fatalf("state = %s, want Connected after giving up", got)
	}
	if !strings.Contains(n.lastError(), "failed tracks in a row") {
		t.Fatalf("last error = %q, want the give-up notice", n.lastError())
	}
	if !sessionHasIdleTimer(s) {
		t.Fatal("giving up must arm the idle timer")
	}

	s.mu.Lock()
	streak := s.errorStreak
	s.mu.Unlock()
	if streak != 0 {
		t.Fatalf("errorStreak = %d, want reset to 0", streak)
	}
}

func TestAutoplayNotTriggeredByErroredEnd(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	s.mu.Lock()
	s.autoplay = true
	s.mu.Unlock()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	seq := tr.plays()[0].seq

	// An errored end with an empty queue must go idle without searching for
	// a related track; this returning promptly (no network) is the point.
	sys.handleTrackEnd(guild, seq, EndErrored)

	if got := sessionState(s); got != StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	if tr.playCount() != 1 {
		t.Fatalf("plays = %d, want no continuation", tr.playCount())
	}
}

// ===========================
// Pause / Resume / Seek / Volume
// ===========================

func TestPauseResume(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	if err := sys.Pause(ctx, guild); !IsUserError(err) {
		t.Fatalf("pause with nothing playing should be a user error, got %v", err)
	}

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})

	if err := sys.Pause(ctx, guild); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got := sessionState(s); got != StatePaused {
		t.Fatalf("state = %s, want Paused", got)
	}
	if err := sys.Pause(ctx, guild); !IsUserError(err) {
		t.Fatalf("double pause should be a user error, got %v", err)
	}

	if err := sys.Resume(ctx, guild); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := sessionState(s); got != StatePlaying {
		t.Fatalf("state = %s, want Playing", got)
	}
	if err := sys.Resume(ctx, guild); !IsUserError(err) {
		t.Fatalf("double resume should be a user error, got %v", err)
	}

	tr.mu.Lock()
	pauses := append([]bool(nil), tr.pauses...)
	tr.mu.Unlock()
	if len(pauses) != 2 || !pauses[0] || pauses[1] {
		t.Fatalf("transport pause calls = %v, want [true false]", pauses)
	}
}

func TestSeekValidation(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if err := sys.Seek(ctx, guild, time.Minute); !IsUserError(err) {
		t.Fatalf("seek with nothing playing should be a user error, got %v", err)
	}

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")}) // 3 minutes long

	if err := sys.Seek(ctx, guild, time.Minute); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	tr.mu.Lock()
	seeks := append([]time.Duration(nil), tr.seeks...)
	tr.mu.Unlock()
	if len(seeks) != 1 || seeks[0] != time.Minute {
		t.Fatalf("transport seeks = %v, want [1m]", seeks)
	}

	if err := sys.Seek(ctx, guild, -time.Second); !IsUserError(err) {
		t.Fatalf("negative seek should be a user error, got %v", err)
	}
	if err := sys.Seek(ctx, guild, 4*time.Minute); !IsUserError(err) {
		t.Fatalf("seek past the end should be a user error, got %v", err)
	}
}

func TestSeekLiveStreamRejected(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	live := &Track{URI: "https://stream.example/radio", Title: "radio", Source: SourceStream}
	_, _ = sys.PlayTracks(ctx, guild, []*Track{live})

	if err := sys.Seek(ctx, guild, time.Second); !IsUserError(err) {
		t.Fatalf("seeking a live stream should be a user error, got %v", err)
	}
}

func TestSetVolumePersists(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	for _, bad := range []int{-1, 101} {
		if err := sys.SetVolume(ctx, guild, bad); !IsUserError(err) {
			t.Fatalf("SetVolume(%d) should be a user error, got %v", bad, err)
		}
	}

	if err := sys.SetVolume(ctx, guild, 80); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	tr.mu.Lock()
	vols := append([]int(nil), tr.volumes...)
	tr.mu.Unlock()
	if len(vols) == 0 || vols[len(vols)-1] != 80 {
		t.Fatalf("transport volumes = %v, want 80 applied", vols)
	}

	settings, err := GetGuildSettings(ctx, guild)
	if err != nil {
		t.Fatalf("GetGuildSettings() error = %v", err)
	}
	if settings.DefaultVolume != 80 {
		t.Fatalf("persisted volume = %d, want 80", settings.DefaultVolume)
	}
}

func TestSetAutoplayPersists(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if err := sys.SetAutoplay(ctx, guild, true); err != nil {
		t.Fatalf("SetAutoplay() error = %v", err)
	}
	settings, err := GetGuildSettings(ctx, guild)
	if err != nil {
		t.Fatalf("GetGuildSettings() error = %v", err)
	}
	if !settings.Autoplay {
		t.Fatal("autoplay setting was not persisted")
	}

	snap, _ := sys.Snapshot(guild)
	if !snap.Autoplay {
		t.Fatal("autoplay not reflected in the session")
	}
}

// ===========================
// Queue Operations Through the System
// ===========================

func TestRemoveTrack(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b"), mkTrack("c")})

	removed, err := sys.RemoveTrack(guild, 1)
	if err != nil {
		t.Fatalf("RemoveTrack() error = %v", err)
	}
	if removed.Title != "b" {
		t.Fatalf("removed = %q, want b (first pending)", removed.Title)
	}

	if _, err := sys.RemoveTrack(guild, 5); !IsUserError(err) {
		t.Fatalf("out-of-range removal should be a user error, got %v", err)
	}
	snap, _ := sys.Snapshot(guild)
	if len(snap.Upcoming) != 1 || snap.Upcoming[0].Title != "c" {
		t.Fatalf("upcoming = %v, want just c", snap.Upcoming)
	}
}

func TestClearQueueKeepsCurrent(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b"), mkTrack("c")})

	cleared, err := sys.ClearQueue(guild)
	if err != nil {
		t.Fatalf("ClearQueue() error = %v", err)
	}
	if cleared != 2 {
		t.Fatalf("cleared = %d, want 2", cleared)
	}

	snap, _ := sys.Snapshot(guild)
	if snap.Current == nil || snap.Current.Title != "a" {
		t.Fatal("clearing the queue must not stop the playing track")
	}
	if len(snap.Upcoming) != 0 {
		t.Fatalf("upcoming = %v, want empty", snap.Upcoming)
	}
}

func TestShuffleEmptyQueueRejected(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)

	if _, err := sys.ShuffleQueue(guild); !IsUserError(err) {
		t.Fatalf("shuffling an empty queue should be a user error, got %v", err)
	}
}

func TestCycleLoop(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)

	want := []LoopMode{LoopTrack, LoopQueue, LoopOff}
	for i, w := range want {
		got, err := sys.CycleLoop(guild)
		if err != nil {
			t.Fatalf("CycleLoop() error = %v", err)
		}
		if got != w {
			t.Fatalf("cycle %d = %s, want %s", i, got, w)
		}
	}
}

func TestSetFiltersRequiresPlayback(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if err := sys.SetFilters(ctx, guild, "nightcore", lavalink.Filters{}); !IsUserError(err) {
		t.Fatalf("filters with nothing playing should be a user error, got %v", err)
	}

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	if err := sys.SetFilters(ctx, guild, "nightcore", lavalink.Filters{}); err != nil {
		t.Fatalf("SetFilters() error = %v", err)
	}

	tr.mu.Lock()
	calls := tr.filterCalls
	tr.mu.Unlock()
	if calls != 1 {
		t.Fatalf("filter calls = %d, want 1", calls)
	}
	snap, _ := sys.Snapshot(guild)
	if snap.FilterName != "nightcore" {
		t.Fatalf("filter name = %q, want nightcore", snap.FilterName)
	}
}

// ===========================
// Stop / Leave / Join
// ===========================

func TestStopClearsEverything(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})

	if err := sys.Stop(ctx, guild); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := sessionState(s); got != StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	if tr.stopCount() == 0 {
		t.Fatal("transport stop was not called")
	}
	if !sessionHasIdleTimer(s) {
		t.Fatal("stop must arm the idle timer")
	}

	snap, _ := sys.Snapshot(guild)
	if snap.Current != nil {
		t.Fatalf("current after stop = %v, want nil", snap.Current)
	}
	if len(snap.Upcoming) != 0 {
		t.Fatalf("upcoming after stop = %v, want empty", snap.Upcoming)
	}
}

func TestLeaveRemovesSession(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})

	if err := sys.Leave(ctx, guild, "test"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if sys.Get(guild) != nil {
		t.Fatal("session still registered after leave")
	}
	if tr.disconnectCount() != 1 {
		t.Fatalf("disconnects = %d, want 1", tr.disconnectCount())
	}

	if err := sys.Leave(ctx, guild, "again"); !IsUserError(err) {
		t.Fatalf("second leave should be a user error, got %v", err)
	}
}

func TestJoinCreatesMovesAndReports(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	ctx := context.Background()
	vc2 := snowflake.ID(testVoiceChannel + 1)

	s1, already, err := sys.Join(ctx, guild, testVoiceChannel, testTextChannel)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if already {
		t.Fatal("first join reported as already connected")
	}
	if ch, ok := tr.connectedChannel(guild); !ok || ch != testVoiceChannel {
		t.Fatalf("connected channel = %v", ch)
	}

	s2, already, err := sys.Join(ctx, guild, testVoiceChannel, testTextChannel)
	if err != nil {
		t.Fatalf("repeat Join() error = %v", err)
	}
	if !already || s2 != s1 {
		t.Fatal("joining the same channel must be a reported no-op on the same session")
	}

	s3, already, err := sys.Join(ctx, guild, vc2, testTextChannel)
	if err != nil {
		t.Fatalf("move Join() error = %v", err)
	}
	if already || s3 != s1 {
		t.Fatal("moving must reuse the session and not report already-connected")
	}
	if ch, _ := tr.connectedChannel(guild); ch != vc2 {
		t.Fatalf("connected channel after move = %v, want %v", ch, vc2)
	}

	if sys.Count() != 1 {
		t.Fatalf("session count = %d, want 1", sys.Count())
	}
}

func TestJoinReplacesClosingSession(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	ctx := context.Background()

	s1, _, err := sys.Join(ctx, guild, testVoiceChannel, testTextChannel)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	s1.mu.Lock()
	s1.state = StateDisconnecting
	s1.mu.Unlock()

	s2, already, err := sys.Join(ctx, guild, testVoiceChannel, testTextChannel)
	if err != nil {
		t.Fatalf("Join() over closing session error = %v", err)
	}
	if already {
		t.Fatal("replacement join reported as already connected")
	}
	if s2 == s1 {
		t.Fatal("closing session was reused instead of replaced")
	}
	if sys.Get(guild) != s2 {
		t.Fatal("registry does not hold the replacement session")
	}
}

func TestConcurrentJoinsConverge(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := sys.Join(ctx, guild, testVoiceChannel, testTextChannel)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Join() error = %v", err)
		}
	}
	if sys.Count() != 1 {
		t.Fatalf("session count = %d, want 1", sys.Count())
	}
}

// ===========================
// Idle Timer
// ===========================

func TestIdleTimerDisconnects(t *testing.T) {
	withIdleTimeout(t, 50*time.Millisecond)
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	sys.handleTrackEnd(guild, tr.plays()[0].seq, EndFinished)

	waitFor(t, "idle disconnect", func() bool {
		return sys.Get(guild) == nil && tr.disconnectCount() == 1
	})
	if n.endedCount() != 1 {
		t.Fatalf("session-ended notifications = %d, want 1", n.endedCount())
	}
	if !strings.Contains(n.lastEnded(), "inactivity") {
		t.Fatalf("ended reason = %q, want an inactivity notice", n.lastEnded())
	}
}

func TestIdleTimerCancelledByPlayback(t *testing.T) {
	withIdleTimeout(t, 150*time.Millisecond)
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a")})
	sys.handleTrackEnd(guild, tr.plays()[0].seq, EndFinished)
	if !sessionHasIdleTimer(s) {
		t.Fatal("idle timer should be armed after exhaustion")
	}

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("b")})

	time.Sleep(400 * time.Millisecond)
	if sys.Get(guild) == nil {
		t.Fatal("session disconnected despite playback restarting")
	}
	if got := sessionState(s); got != StatePlaying {
		t.Fatalf("state = %s, want Playing", got)
	}
	if tr.disconnectCount() != 0 || n.endedCount() != 0 {
		t.Fatal("cancelled idle timer still disconnected")
	}
}

func TestIdleFireStaleGeneration(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)

	s.armIdle(sys, idleNothingPlaying)
	s.mu.Lock()
	gen := s.idleGen
	s.mu.Unlock()

	// A rescheduled timer's old callback carries a superseded generation.
	s.idleFired(sys, gen-1, idleNothingPlaying)

	if sys.Get(guild) == nil {
		t.Fatal("stale idle fire tore the session down")
	}
	if tr.disconnectCount() != 0 {
		t.Fatal("stale idle fire disconnected")
	}
}

func TestIdleFireRechecksPlayback(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)

	s.armIdle(sys, idleNothingPlaying)
	s.mu.Lock()
	gen := s.idleGen
	s.state = StatePlaying
	s.mu.Unlock()

	s.idleFired(sys, gen, idleNothingPlaying)

	if sys.Get(guild) == nil {
		t.Fatal("idle fire ignored resumed playback")
	}
	if tr.disconnectCount() != 0 {
		t.Fatal("disconnected despite playback running")
	}
}

func TestIdleFireRechecksStay(t *testing.T) {
	sys, tr, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)

	s.armIdle(sys, idleNothingPlaying)
	s.mu.Lock()
	gen := s.idleGen
	s.stay = true
	s.mu.Unlock()

	s.idleFired(sys, gen, idleNothingPlaying)

	if sys.Get(guild) == nil || tr.disconnectCount() != 0 {
		t.Fatal("idle fire ignored 24/7 mode")
	}
}

func TestIdleFireEmptyChannelProceeds(t *testing.T) {
	sys, tr, n := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)

	s.armIdle(sys, idleEmptyChannel)
	s.mu.Lock()
	gen := s.idleGen
	s.mu.Unlock()

	// No client means no humans visible; the empty-channel fire goes ahead.
	s.idleFired(sys, gen, idleEmptyChannel)

	if sys.Get(guild) != nil {
		t.Fatal("session survived empty-channel idle fire")
	}
	if tr.disconnectCount() != 1 {
		t.Fatalf("disconnects = %d, want 1", tr.disconnectCount())
	}
	if n.endedCount() != 1 {
		t.Fatalf("session-ended notifications = %d, want 1", n.endedCount())
	}
}

func TestStayBlocksIdleArm(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)
	ctx := context.Background()

	if err := sys.SetStay(guild, true); err != nil {
		t.Fatalf("SetStay() error = %v", err)
	}
	if err := sys.Stop(ctx, guild); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sessionHasIdleTimer(s) {
		t.Fatal("24/7 session armed an idle timer on stop")
	}

	s.armIdle(sys, idleNothingPlaying)
	if sessionHasIdleTimer(s) {
		t.Fatal("armIdle ignored 24/7 mode")
	}
}

func TestStayDisableRearmsIdle(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	s := addTestSession(t, sys, guild)

	_ = sys.SetStay(guild, true)
	if err := sys.SetStay(guild, false); err != nil {
		t.Fatalf("SetStay(false) error = %v", err)
	}
	if !sessionHasIdleTimer(s) {
		t.Fatal("disabling 24/7 on an idle session must arm the timer")
	}
}

// ===========================
// Snapshot / Registry
// ===========================

func TestSnapshotReflectsSession(t *testing.T) {
	sys, _, _ := newTestSystem(t)
	guild := nextGuildID()
	addTestSession(t, sys, guild)
	ctx := context.Background()

	if _, err := sys.Snapshot(nextGuildID()); !IsUserError(err) {
		t.Fatalf("snapshot of a missing session should be a user error, got %v", err)
	}

	_, _ = sys.PlayTracks(ctx, guild, []*Track{mkTrack("a"), mkTrack("b")})
	_ = sys.SetVolume(ctx, guild, 70)
	_, _ = sys.SetLoop(guild, LoopQueue)
	_ = sys.SetStay(guild, true)

	snap, err := sys.Snapshot(guild)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.State != StatePlaying {
		t.Fatalf("state = %s, want Playing", snap.State)
	}
	if snap.Current.Title != "a" || len(snap.Upcoming) != 1 {
		t.Fatalf("current=%v upcoming=%v", snap.Current, snap.Upcoming)
	}
	if snap.Volume != 70 || snap.Loop != LoopQueue || !snap.Stay {
		t.Fatalf("snapshot settings = %+v", snap)
	}
	if snap.VoiceChannelID != testVoiceChannel {
		t.Fatalf("voice channel = %v, want %v", snap.VoiceChannelID, testVoiceChannel)
	}
	if snap.Uptime <= 0 {
		t.Fatalf("uptime = %v, want > 0", snap.Uptime)
	}
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateConnected, "Connected"},
		{StatePlaying, "Playing"},
		{StatePaused, "Paused"},
		{StateDisconnecting, "Disconnecting"},
		{SessionState(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestTrackEndKindString(t *testing.T) {
	tests := []struct {
		kind TrackEndKind
		want string
	}{
		{EndFinished, "finished"},
		{EndSkipped, "skipped"},
		{EndErrored, "errored"},
		{TrackEndKind(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("TrackEndKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestUserErrorDetection(t *testing.T) {
	if !IsUserError(userErrorf("plain %s", "message")) {
		t.Fatal("userErrorf must produce a user error")
	}
	if IsUserError(context.Canceled) {
		t.Fatal("unrelated errors must not be user errors")
	}
	if IsUserError(nil) {
		t.Fatal("nil is not a user error")
	}
}
