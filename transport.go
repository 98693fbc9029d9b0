package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Messages
// ===========================

const (
	MsgNodeConnecting      = "Connecting to Lavalink node %s..."
	MsgNodeConnected       = "Connected to Lavalink node %s (version %s)"
	MsgNodeConnectFail     = "Lavalink node %s unreachable: %v (retrying in %s)"
	MsgNodeShutdown        = "Lavalink client closed"
	MsgTransportNotReady   = "voice transport is not connected to an audio node"
	MsgTransportNoMatches  = "no playable media found for %q"
	MsgTransportTrackStart = "Guild %s: started %q"
	MsgTransportTrackStuck = "Guild %s: track %q stuck for %s, treating as errored"
	MsgTransportWSClosed   = "Guild %s: voice websocket closed (code %d): %s"
	MsgTransportException  = "Guild %s: playback exception for %q: %s"
)

// ===========================
// Transport Interface
// ===========================

// TrackEndKind classifies why playback of a track stopped.
type TrackEndKind int

const (
	EndFinished TrackEndKind = iota
	EndSkipped
	EndErrored
)

func (k TrackEndKind) String() string {
	switch k {
	case EndFinished:
		return "finished"
	case EndSkipped:
		return "skipped"
	case EndErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// TrackEndHandler receives asynchronous end-of-track notifications. seq is
// the play generation the ended track was started with; handlers discard
// events whose generation no longer matches their session.
type TrackEndHandler func(guildID snowflake.ID, seq uint64, kind TrackEndKind)

// VoiceTransport is the audio backend the playback engine drives. All
// methods may be called concurrently for different guilds; calls for one
// guild are serialized by the owning session.
type VoiceTransport interface {
	Connect(ctx context.Context, guildID, channelID snowflake.ID) error
	Disconnect(ctx context.Context, guildID snowflake.ID) error
	Play(ctx context.Context, guildID snowflake.ID, track *Track, seq uint64) error
	Stop(ctx context.Context, guildID snowflake.ID) error
	Pause(ctx context.Context, guildID snowflake.ID, paused bool) error
	Seek(ctx context.Context, guildID snowflake.ID, position time.Duration) error
	SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error
	SetFilters(ctx context.Context, guildID snowflake.ID, filters lavalink.Filters) error
	Position(guildID snowflake.ID) time.Duration
	SetEndHandler(fn TrackEndHandler)
}

// ===========================
// Lavalink Transport
// ===========================

// lavalinkTransport streams audio through a Lavalink node, translating
// engine tracks into node player updates and node events back into engine
// track-end notifications.
type lavalinkTransport struct {
	mu         sync.RWMutex
	link       disgolink.Client
	client     *bot.Client
	botID      snowflake.ID
	nodeReady  bool
	endHandler TrackEndHandler
}

var (
	transportOnce     sync.Once
	transportInstance *lavalinkTransport
)

// GetTransport returns the process-wide voice transport.
func GetTransport() *lavalinkTransport {
	transportOnce.Do(func() {
		transportInstance = &lavalinkTransport{}
	})
	return transportInstance
}

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		GetTransport().bind(client)
		RegisterDaemon(LogNode, GetTransport().startNodeDaemon)
	})

	RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		GetTransport().onVoiceStateUpdate(event)
	})
	RegisterVoiceServerUpdateHandler(func(event *events.VoiceServerUpdate) {
		GetTransport().onVoiceServerUpdate(event)
	})
}

// bind attaches the transport to the gateway client and builds the Lavalink
// client around the bot's user ID.
func (t *lavalinkTransport) bind(client *bot.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != nil {
		return
	}

	t.client = client
	if su, ok := client.Caches.SelfUser(); ok {
		t.botID = su.ID
	}

	t.link = disgolink.New(t.botID,
		disgolink.WithListenerFunc(t.onTrackStart),
		disgolink.WithListenerFunc(t.onTrackEnd),
		disgolink.WithListenerFunc(t.onTrackException),
		disgolink.WithListenerFunc(t.onTrackStuck),
		disgolink.WithListenerFunc(t.onWebSocketClosed),
	)
}

// startNodeDaemon keeps retrying the configured Lavalink node until it
// connects, then idles. The node client reconnects on its own afterwards.
func (t *lavalinkTransport) startNodeDaemon(ctx context.Context) (bool, func(), func()) {
	t.mu.RLock()
	link := t.link
	t.mu.RUnlock()
	if link == nil || GlobalConfig == nil || GlobalConfig.LavalinkAddress == "" {
		return false, nil, nil
	}

	run := func() {
		cfg := disgolink.NodeConfig{
			Name:     GetProjectName(),
			Address:  GlobalConfig.LavalinkAddress,
			Password: GlobalConfig.LavalinkPassword,
			Secure:   GlobalConfig.LavalinkSecure,
		}

		retry := 5 * time.Second
		for {
			LogNode(MsgNodeConnecting, cfg.Address)
			nodeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			node, err := link.AddNode(nodeCtx, cfg)
			cancel()
			if err == nil {
				version := "unknown"
				if v, verr := node.Version(ctx); verr == nil {
					version = v
				}
				LogNode(MsgNodeConnected, cfg.Address, version)
				t.mu.Lock()
				t.nodeReady = true
				t.mu.Unlock()
				return
			}

			LogNode(MsgNodeConnectFail, cfg.Address, err, retry)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			if retry < 60*time.Second {
				retry *= 2
			}
		}
	}

	shutdown := func() {
		t.mu.Lock()
		t.nodeReady = false
		t.mu.Unlock()
		link.Close()
		LogNode(MsgNodeShutdown)
	}

	return true, run, shutdown
}

func (t *lavalinkTransport) ready() (disgolink.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.link == nil || !t.nodeReady {
		return nil, errors.New(MsgTransportNotReady)
	}
	return t.link, nil
}

// SetEndHandler installs the engine callback for asynchronous track ends.
// Must be called before any Play.
func (t *lavalinkTransport) SetEndHandler(fn TrackEndHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endHandler = fn
}

// ===========================
// Gateway Plumbing
// ===========================

// onVoiceStateUpdate forwards the bot's own voice session to the node. Other
// members' updates are the lifecycle monitor's business, not ours.
func (t *lavalinkTransport) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	t.mu.RLock()
	link, botID := t.link, t.botID
	t.mu.RUnlock()

	if link == nil || event.VoiceState.UserID != botID {
		return
	}
	link.OnVoiceStateUpdate(context.Background(), event.VoiceState.GuildID, event.VoiceState.ChannelID, event.VoiceState.SessionID)
}

func (t *lavalinkTransport) onVoiceServerUpdate(event *events.VoiceServerUpdate) {
	t.mu.RLock()
	link := t.link
	t.mu.RUnlock()

	if link == nil || event.Endpoint == nil {
		return
	}
	link.OnVoiceServerUpdate(context.Background(), event.GuildID, event.Token, *event.Endpoint)
}

// ===========================
// Playback Operations
// ===========================

func (t *lavalinkTransport) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return errors.New(MsgTransportNotReady)
	}
	return client.UpdateVoiceState(ctx, guildID, &channelID, false, true)
}

func (t *lavalinkTransport) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	t.mu.RLock()
	client, link := t.client, t.link
	t.mu.RUnlock()
	if client == nil {
		return errors.New(MsgTransportNotReady)
	}

	if link != nil {
		if player := link.ExistingPlayer(guildID); player != nil {
			destroyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = player.Destroy(destroyCtx)
			cancel()
		}
	}
	return client.UpdateVoiceState(ctx, guildID, nil, false, false)
}

// trackUserData rides along on every loaded track so end events can be
// matched back to the play generation that issued them.
type trackUserData struct {
	Seq uint64 `json:"seq"`
}

// Play loads the track's identifier on the node and starts it, replacing
// whatever was playing. Zero-valued metadata on the engine track is filled
// in from the node's view before returning.
func (t *lavalinkTransport) Play(ctx context.Context, guildID snowflake.ID, track *Track, seq uint64) error {
	link, err := t.ready()
	if err != nil {
		return err
	}

	loaded, err := t.loadOne(ctx, link, track.URI)
	if err != nil {
		return err
	}

	if track.Title == "" {
		track.Title = loaded.Info.Title
	}
	if track.Author == "" {
		track.Author = loaded.Info.Author
	}
	if track.Duration == 0 && !loaded.Info.IsStream {
		track.Duration = time.Duration(loaded.Info.Length.Milliseconds()) * time.Millisecond
	}
	if track.Artwork == "" && loaded.Info.ArtworkURL != nil {
		track.Artwork = *loaded.Info.ArtworkURL
	}

	player := link.Player(guildID)
	return player.Update(ctx,
		lavalink.WithTrack(*loaded),
		lavalink.WithTrackUserData(trackUserData{Seq: seq}),
		lavalink.WithPaused(false),
	)
}

// loadOne resolves an identifier (URL or search directive) to exactly one
// node track.
func (t *lavalinkTransport) loadOne(ctx context.Context, link disgolink.Client, identifier string) (*lavalink.Track, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	result, err := link.BestNode().LoadTracks(loadCtx, identifier)
	if err != nil {
		return nil, err
	}

	switch data := result.Data.(type) {
	case lavalink.Track:
		return &data, nil
	case lavalink.Search:
		if len(data) == 0 {
			return nil, fmt.Errorf(MsgTransportNoMatches, identifier)
		}
		return &data[0], nil
	case lavalink.Playlist:
		if len(data.Tracks) == 0 {
			return nil, fmt.Errorf(MsgTransportNoMatches, identifier)
		}
		return &data.Tracks[0], nil
	case lavalink.Exception:
		return nil, fmt.Errorf("%s", data.Error())
	default:
		return nil, fmt.Errorf(MsgTransportNoMatches, identifier)
	}
}

func (t *lavalinkTransport) Stop(ctx context.Context, guildID snowflake.ID) error {
	link, err := t.ready()
	if err != nil {
		return err
	}
	player := link.ExistingPlayer(guildID)
	if player == nil {
		return nil
	}
	return player.Update(ctx, lavalink.WithNullTrack())
}

func (t *lavalinkTransport) Pause(ctx context.Context, guildID snowflake.ID, paused bool) error {
	link, err := t.ready()
	if err != nil {
		return err
	}
	player := link.ExistingPlayer(guildID)
	if player == nil {
		return errors.New(MsgTransportNotReady)
	}
	return player.Update(ctx, lavalink.WithPaused(paused))
}

func (t *lavalinkTransport) Seek(ctx context.Context, guildID snowflake.ID, position time.Duration) error {
	link, err := t.ready()
	if err != nil {
		return err
	}
	player := link.ExistingPlayer(guildID)
	if player == nil {
		return errors.New(MsgTransportNotReady)
	}
	return player.Update(ctx, lavalink.WithPosition(lavalink.Duration(position.Milliseconds())))
}

func (t *lavalinkTransport) SetVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	link, err := t.ready()
	if err != nil {
		return err
	}
	player := link.Player(guildID)
	return player.Update(ctx, lavalink.WithVolume(volume))
}

func (t *lavalinkTransport) SetFilters(ctx context.Context, guildID snowflake.ID, filters lavalink.Filters) error {
	link, err := t.ready()
	if err != nil {
		return err
	}
	player := link.ExistingPlayer(guildID)
	if player == nil {
		return errors.New(MsgTransportNotReady)
	}
	return player.Update(ctx, lavalink.WithFilters(filters))
}

// Position returns the node's last-reported playhead for the guild's
// player, zero when nothing is loaded.
func (t *lavalinkTransport) Position(guildID snowflake.ID) time.Duration {
	t.mu.RLock()
	link := t.link
	t.mu.RUnlock()
	if link == nil {
		return 0
	}
	player := link.ExistingPlayer(guildID)
	if player == nil {
		return 0
	}
	return time.Duration(player.Position().Milliseconds()) * time.Millisecond
}

// ===========================
// Node Events
// ===========================

func (t *lavalinkTransport) onTrackStart(_ disgolink.Player, event lavalink.TrackStartEvent) {
	LogVoice(MsgTransportTrackStart, event.GuildID(), event.Track.Info.Title)
}

// onTrackEnd translates node end reasons into engine notifications. Stopped,
// replaced, and cleanup ends are engine-initiated (stop, skip, disconnect) —
// the session already transitioned when it issued them, so forwarding those
// would double-advance the queue.
func (t *lavalinkTransport) onTrackEnd(_ disgolink.Player, event lavalink.TrackEndEvent) {
	var kind TrackEndKind
	switch event.Reason {
	case lavalink.TrackEndReasonFinished:
		kind = EndFinished
	case lavalink.TrackEndReasonLoadFailed:
		kind = EndErrored
	default:
		return
	}
	t.dispatchEnd(event.GuildID(), event.Track, kind)
}

func (t *lavalinkTransport) onTrackException(_ disgolink.Player, event lavalink.TrackExceptionEvent) {
	LogVoice(MsgTransportException, event.GuildID(), event.Track.Info.Title, event.Exception.Error())
}

// onTrackStuck fires when the node stops receiving audio frames. The node
// will not emit a normal end for a stuck track, so it is surfaced as an
// errored end to let the session move on.
func (t *lavalinkTransport) onTrackStuck(_ disgolink.Player, event lavalink.TrackStuckEvent) {
	LogVoice(MsgTransportTrackStuck, event.GuildID(), event.Track.Info.Title, event.Threshold)
	t.dispatchEnd(event.GuildID(), event.Track, EndErrored)
}

func (t *lavalinkTransport) onWebSocketClosed(_ disgolink.Player, event lavalink.WebSocketClosedEvent) {
	LogVoice(MsgTransportWSClosed, event.GuildID(), event.Code, event.Reason)
}

// dispatchEnd hands an end notification to the engine off the node's event
// goroutine, so slow advances in one guild never stall events for others.
func (t *lavalinkTransport) dispatchEnd(guildID snowflake.ID, track lavalink.Track, kind TrackEndKind) {
	t.mu.RLock()
	handler := t.endHandler
	t.mu.RUnlock()
	if handler == nil {
		return
	}

	var ud trackUserData
	if len(track.UserData) > 0 {
		_ = json.Unmarshal(track.UserData, &ud)
	}

	safeGo(func() {
		handler(guildID, ud.Seq, kind)
	})
}
