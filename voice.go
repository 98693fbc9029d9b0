package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Command Registration
// ===========================

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		musicCards = newMusicNotifier(client)
		GetPlaybackSystem().SetNotifier(musicCards)
	})

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music playback",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a track, playlist link, or search",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL, Spotify link, or song name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "join",
				Description: "Join your voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "leave",
				Description: "Leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume the paused track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "seek",
				Description: "Jump to a position in the current track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "position",
						Description: "Target position (90, 1:30, 1:02:03)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Set the playback volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "level",
						Description: "Volume percentage (0-100)",
						Required:    true,
						MinValue:    intPtr(0),
						MaxValue:    intPtr(100),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "nowplaying",
				Description: "Show the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queued tracks",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a queued track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to remove (1 = next up)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queued tracks",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loop",
				Description: "Set the loop mode",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "mode",
						Description: "Loop mode (omit to cycle)",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Off", Value: "off"},
							{Name: "Track", Value: "track"},
							{Name: "Queue", Value: "queue"},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "autoplay",
				Description: "Toggle related-track autoplay",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Explicit state (omit to toggle)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stay",
				Description: "Toggle 24/7 mode (no idle disconnect)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Explicit state (omit to toggle)",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "filter",
				Description: "Apply an audio filter preset",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "preset",
						Description: "Filter preset",
						Required:    true,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Off", Value: "off"},
							{Name: "Nightcore", Value: "nightcore"},
							{Name: "Vaporwave", Value: "vaporwave"},
						},
					},
				},
			},
		},
	}, handleMusic)

	RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	RegisterComponentHandler("queue:", handleQueuePagination)
}

// ===========================
// Messages
// ===========================

const (
	MsgMusicNotInVoice      = "You need to be in a voice channel first."
	MsgMusicJoined          = "Joined <#%s>."
	MsgMusicAlreadyJoined   = "Already in your voice channel."
	MsgMusicLeft            = "👋 Left the voice channel."
	MsgMusicNoResults       = "No tracks found for **%s**."
	MsgMusicQueuedTrack     = "Queued **%s**."
	MsgMusicQueuedPlaylist  = "Queued **%d** tracks from **%s**."
	MsgMusicPlayingTrack    = "▶️ Playing **%s**."
	MsgMusicPaused          = "⏸️ Paused."
	MsgMusicResumed         = "▶️ Resumed."
	MsgMusicSkipped         = "⏭️ Skipped **%s**."
	MsgMusicSkippedNothing  = "⏭️ Skipped."
	MsgMusicStopped         = "🛑 Stopped and cleared the queue."
	MsgMusicSeeked          = "⏩ Jumped to **%s**."
	MsgMusicVolumeSet       = "🔊 Volume set to **%d%%**."
	MsgMusicShuffled        = "🔀 Shuffled **%d** tracks."
	MsgMusicRemoved         = "🗑️ Removed **%s**."
	MsgMusicCleared         = "🗑️ Cleared **%d** tracks."
	MsgMusicLoopMode        = "🔁 Loop mode: **%s**."
	MsgMusicAutoplayState   = "Autoplay is now **%s**."
	MsgMusicStayState       = "24/7 mode is now **%s**."
	MsgMusicFilterSet       = "🎚️ Filter: **%s**."
	MsgMusicInternalError   = "Something went wrong, please try again later."
	MsgMusicQueueTitle      = "**Queue** · %d track(s) · %s"
	MsgMusicQueueEmptyBody  = "_Empty_"
	MsgMusicNowPlayingTitle = "**Now Playing**"
)

var musicCards *musicNotifier

const queuePageSize = 10

// ===========================
// Dispatch
// ===========================

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}
	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data)
	case "join":
		handleMusicJoin(event)
	case "leave":
		handleMusicLeave(event)
	case "pause":
		handleMusicPause(event)
	case "resume":
		handleMusicResume(event)
	case "skip":
		handleMusicSkip(event)
	case "stop":
		handleMusicStop(event)
	case "seek":
		handleMusicSeek(event, data)
	case "volume":
		handleMusicVolume(event, data)
	case "nowplaying":
		handleMusicNowPlaying(event)
	case "queue":
		renderQueue(event, 0)
	case "shuffle":
		handleMusicShuffle(event)
	case "remove":
		handleMusicRemove(event, data)
	case "clear":
		handleMusicClear(event)
	case "loop":
		handleMusicLoop(event, data)
	case "autoplay":
		handleMusicAutoplay(event, data)
	case "stay":
		handleMusicStay(event, data)
	case "filter":
		handleMusicFilter(event, data)
	}
}

// ===========================
// Helpers
// ===========================

// requesterVoiceChannel looks up which voice channel the invoking user is
// connected to.
func requesterVoiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil || event.Member() == nil {
		return 0, false
	}
	vs, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// ensureSession joins (or moves to) the requester's voice channel and
// returns the session. The interaction's channel becomes the notification
// target.
func ensureSession(ctx context.Context, event *events.ApplicationCommandInteractionCreate) (*PlaybackSession, bool, error) {
	channelID, ok := requesterVoiceChannel(event)
	if !ok {
		return nil, false, userErrorf(MsgMusicNotInVoice)
	}
	return GetPlaybackSystem().Join(ctx, *event.GuildID(), channelID, event.Channel().ID())
}

func respondMusic(event *events.ApplicationCommandInteractionCreate, text string, ephemeral bool) {
	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(text)), ephemeral)
}

func respondMusicError(event *events.ApplicationCommandInteractionCreate, err error) {
	if IsUserError(err) {
		respondMusic(event, err.Error(), true)
		return
	}
	LogVoice(MsgGenericError, err)
	respondMusic(event, MsgMusicInternalError, true)
}

func editMusic(event *events.ApplicationCommandInteractionCreate, text string) {
	_ = EditInteractionV2(*event.Client(), event, NewV2Container(NewTextDisplay(text)))
}

func editMusicError(event *events.ApplicationCommandInteractionCreate, err error) {
	if IsUserError(err) {
		editMusic(event, err.Error())
		return
	}
	LogVoice(MsgGenericError, err)
	editMusic(event, MsgMusicInternalError)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// ===========================
// Handlers
// ===========================

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := strings.TrimSpace(data.String("query"))
	LogVoice("User %s (%s) requested playback: %s", event.User().Username, event.User().ID, query)

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	if _, _, err := ensureSession(ctx, event); err != nil {
		editMusicError(event, err)
		return
	}

	result := GetResolver().Resolve(ctx, query, event.User().ID)
	if result.Empty() {
		editMusic(event, fmt.Sprintf(MsgMusicNoResults, Truncate(query, 80)))
		return
	}

	var tracks []*Track
	var reply string
	if result.Playlist != nil {
		tracks = result.Playlist.Tracks
		reply = fmt.Sprintf(MsgMusicQueuedPlaylist, len(tracks), Truncate(result.Playlist.Name, 80))
	} else {
		// Search resolution can return several candidates; playback takes
		// the top one.
		tracks = result.Tracks[:1]
	}

	started, err := GetPlaybackSystem().PlayTracks(ctx, *event.GuildID(), tracks)
	if err != nil {
		editMusicError(event, err)
		return
	}
	if reply == "" {
		if started {
			reply = fmt.Sprintf(MsgMusicPlayingTrack, Truncate(tracks[0].Title, 80))
		} else {
			reply = fmt.Sprintf(MsgMusicQueuedTrack, Truncate(tracks[0].Title, 80))
		}
	}
	editMusic(event, reply)
}

func handleMusicJoin(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := commandContext()
	defer cancel()

	channelID, ok := requesterVoiceChannel(event)
	if !ok {
		respondMusic(event, MsgMusicNotInVoice, true)
		return
	}
	_, already, err := GetPlaybackSystem().Join(ctx, *event.GuildID(), channelID, event.Channel().ID())
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if already {
		respondMusic(event, MsgMusicAlreadyJoined, true)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicJoined, channelID), false)
}

func handleMusicLeave(event *events.ApplicationCommandInteractionCreate) {
	LogVoice("User %s (%s) disconnected the bot in guild %s", event.User().Username, event.User().ID, *event.GuildID())
	ctx, cancel := commandContext()
	defer cancel()

	if musicCards != nil {
		musicCards.clearNowPlaying(*event.GuildID())
	}
	if err := GetPlaybackSystem().Leave(ctx, *event.GuildID(), "user request"); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, MsgMusicLeft, false)
}

func handleMusicPause(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := commandContext()
	defer cancel()
	if err := GetPlaybackSystem().Pause(ctx, *event.GuildID()); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, MsgMusicPaused, false)
}

func handleMusicResume(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := commandContext()
	defer cancel()
	if err := GetPlaybackSystem().Resume(ctx, *event.GuildID()); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, MsgMusicResumed, false)
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	skipped, err := GetPlaybackSystem().Skip(ctx, *event.GuildID())
	if err != nil {
		editMusicError(event, err)
		return
	}
	if skipped != nil {
		editMusic(event, fmt.Sprintf(MsgMusicSkipped, Truncate(skipped.Title, 80)))
		return
	}
	editMusic(event, MsgMusicSkippedNothing)
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	LogVoice("User %s (%s) stopped playback in guild %s", event.User().Username, event.User().ID, *event.GuildID())
	ctx, cancel := commandContext()
	defer cancel()

	if err := GetPlaybackSystem().Stop(ctx, *event.GuildID()); err != nil {
		respondMusicError(event, err)
		return
	}
	if musicCards != nil {
		musicCards.clearNowPlaying(*event.GuildID())
	}
	respondMusic(event, MsgMusicStopped, false)
}

func handleMusicSeek(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	position, err := ParseTrackTime(data.String("position"))
	if err != nil {
		respondMusic(event, "Invalid position, use seconds or m:ss.", true)
		return
	}
	ctx, cancel := commandContext()
	defer cancel()
	if err := GetPlaybackSystem().Seek(ctx, *event.GuildID(), position); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicSeeked, FormatTrackTime(position)), false)
}

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	level := data.Int("level")
	ctx, cancel := commandContext()
	defer cancel()
	if err := GetPlaybackSystem().SetVolume(ctx, *event.GuildID(), level); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicVolumeSet, level), false)
}

func handleMusicNowPlaying(event *events.ApplicationCommandInteractionCreate) {
	sys := GetPlaybackSystem()
	snap, err := sys.Snapshot(*event.GuildID())
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if snap.Current == nil || (snap.State != StatePlaying && snap.State != StatePaused) {
		respondMusic(event, MsgSessionNothingPlaying, true)
		return
	}

	track := snap.Current
	position := sys.Position(*event.GuildID())

	var body strings.Builder
	fmt.Fprintf(&body, "[%s](%s)\n", track.Title, track.URI)
	if track.Author != "" {
		fmt.Fprintf(&body, "%s · ", track.Author)
	}
	fmt.Fprintf(&body, "%s · requested by <@%s>\n\n", track.Source, track.Requester)
	if track.Duration > 0 {
		fmt.Fprintf(&body, "`%s` %s `%s`", FormatTrackTime(position), ProgressBar(position, track.Duration, 20), FormatTrackTime(track.Duration))
	} else {
		fmt.Fprintf(&body, "`%s` 🔴 LIVE", FormatTrackTime(position))
	}

	state := "Playing"
	if snap.State == StatePaused {
		state = "Paused"
	}
	footer := fmt.Sprintf("%s · Volume **%d%%** · Loop **%s** · Autoplay **%s** · 24/7 **%s**",
		state, snap.Volume, snap.Loop, onOff(snap.Autoplay), onOff(snap.Stay))

	components := []interface{}{
		NewTextDisplay(MsgMusicNowPlayingTitle),
		NewTextDisplay(body.String()),
	}
	if track.Artwork != "" {
		components = append(components, NewMediaGallery(track.Artwork))
	}
	components = append(components, NewSeparator(true), NewTextDisplay(footer))

	_ = RespondInteractionV2(*event.Client(), event, NewV2Container(components...), false)
}

func handleMusicShuffle(event *events.ApplicationCommandInteractionCreate) {
	n, err := GetPlaybackSystem().ShuffleQueue(*event.GuildID())
	if err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicShuffled, n), false)
}

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	removed, err := GetPlaybackSystem().RemoveTrack(*event.GuildID(), data.Int("position"))
	if err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicRemoved, Truncate(removed.Title, 80)), false)
}

func handleMusicClear(event *events.ApplicationCommandInteractionCreate) {
	n, err := GetPlaybackSystem().ClearQueue(*event.GuildID())
	if err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicCleared, n), false)
}

func handleMusicLoop(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	var mode LoopMode
	var err error
	if raw, ok := data.OptString("mode"); ok {
		switch raw {
		case "track":
			mode = LoopTrack
		case "queue":
			mode = LoopQueue
		default:
			mode = LoopOff
		}
		mode, err = GetPlaybackSystem().SetLoop(*event.GuildID(), mode)
	} else {
		mode, err = GetPlaybackSystem().CycleLoop(*event.GuildID())
	}
	if err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicLoopMode, mode), false)
}

func handleMusicAutoplay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sys := GetPlaybackSystem()
	enabled, ok := data.OptBool("enabled")
	if !ok {
		snap, err := sys.Snapshot(*event.GuildID())
		if err != nil {
			respondMusicError(event, err)
			return
		}
		enabled = !snap.Autoplay
	}

	ctx, cancel := commandContext()
	defer cancel()
	if err := sys.SetAutoplay(ctx, *event.GuildID(), enabled); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicAutoplayState, onOff(enabled)), false)
}

func handleMusicStay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sys := GetPlaybackSystem()
	enabled, ok := data.OptBool("enabled")
	if !ok {
		snap, err := sys.Snapshot(*event.GuildID())
		if err != nil {
			respondMusicError(event, err)
			return
		}
		enabled = !snap.Stay
	}

	if err := sys.SetStay(*event.GuildID(), enabled); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicStayState, onOff(enabled)), false)
}

func handleMusicFilter(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	preset := data.String("preset")
	filters, label := musicFilterPreset(preset)

	ctx, cancel := commandContext()
	defer cancel()
	if err := GetPlaybackSystem().SetFilters(ctx, *event.GuildID(), label, filters); err != nil {
		respondMusicError(event, err)
		return
	}
	respondMusic(event, fmt.Sprintf(MsgMusicFilterSet, label), false)
}

// musicFilterPreset maps a preset name to a player filter chain.
func musicFilterPreset(name string) (lavalink.Filters, string) {
	switch name {
	case "nightcore":
		return lavalink.Filters{Timescale: &lavalink.Timescale{Speed: 1.2, Pitch: 1.2, Rate: 1}}, "Nightcore"
	case "vaporwave":
		return lavalink.Filters{Timescale: &lavalink.Timescale{Speed: 0.85, Pitch: 0.85, Rate: 1}}, "Vaporwave"
	default:
		return lavalink.Filters{}, "Off"
	}
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

// ===========================
// Queue View
// ===========================

// renderQueue renders one page of the queue, as the initial command response
// or as an update when paging. Navigation appears only when the queue spans
// multiple pages.
func renderQueue(event any, offset int) {
	var guildID *snowflake.ID
	if ev, ok := event.(*events.ApplicationCommandInteractionCreate); ok {
		guildID = ev.GuildID()
	} else if ev, ok := event.(*events.ComponentInteractionCreate); ok {
		guildID = ev.GuildID()
	}
	if guildID == nil {
		return
	}

	snap, err := GetPlaybackSystem().Snapshot(*guildID)
	if err != nil {
		if ev, ok := event.(*events.ApplicationCommandInteractionCreate); ok {
			respondMusicError(ev, err)
		}
		return
	}

	total := len(snap.Upcoming)
	if offset >= total {
		offset = Max(0, total-queuePageSize)
	}
	if offset < 0 {
		offset = 0
	}

	var parts []discord.ContainerSubComponent

	if snap.Current != nil && (snap.State == StatePlaying || snap.State == StatePaused) {
		header := fmt.Sprintf("**Now Playing:**\n[%s](%s)", snap.Current.Title, snap.Current.URI)
		if snap.Current.Author != "" {
			header += " · " + snap.Current.Author
		}
		header += fmt.Sprintf(" `%s`", FormatTrackLength(snap.Current.Duration))
		parts = append(parts, discord.NewTextDisplay(header))
	}

	var totalLength time.Duration
	for _, t := range snap.Upcoming {
		totalLength += t.Duration
	}
	parts = append(parts, discord.NewTextDisplay(fmt.Sprintf(MsgMusicQueueTitle, total, FormatTrackTime(totalLength))))

	if total == 0 {
		parts = append(parts, discord.NewTextDisplay(MsgMusicQueueEmptyBody))
	} else {
		var list strings.Builder
		end := Min(offset+queuePageSize, total)
		for i := offset; i < end; i++ {
			t := snap.Upcoming[i]
			fmt.Fprintf(&list, "`%d.` [%s](%s) `%s`\n", i+1, Truncate(t.Title, 60), t.URI, FormatTrackLength(t.Duration))
		}
		if end < total {
			fmt.Fprintf(&list, "*...and %d more*", total-end)
		}
		parts = append(parts, discord.NewTextDisplay(list.String()))
	}

	footer := fmt.Sprintf("Volume **%d%%** · Loop **%s** · Autoplay **%s** · 24/7 **%s**",
		snap.Volume, snap.Loop, onOff(snap.Autoplay), onOff(snap.Stay))
	parts = append(parts, discord.NewTextDisplay(footer))

	if total > queuePageSize {
		var opts []discord.StringSelectMenuOption
		if offset > 0 {
			opts = append(opts, discord.NewStringSelectMenuOption("Previous page", fmt.Sprintf("prev:%d", offset)).WithDescription(fmt.Sprintf("Tracks %d-%d", Max(1, offset-queuePageSize+1), offset)))
		}
		opts = append(opts, discord.NewStringSelectMenuOption("Refresh", fmt.Sprintf("refresh:%d", offset)).WithDescription("Reload this page"))
		if offset+queuePageSize < total {
			opts = append(opts, discord.NewStringSelectMenuOption("Next page", fmt.Sprintf("next:%d", offset)).WithDescription(fmt.Sprintf("Tracks %d-%d", offset+queuePageSize+1, Min(offset+2*queuePageSize, total))))
		}
		nav := discord.NewStringSelectMenu("queue:nav", "Navigate", opts...)
		parts = append(parts, discord.NewActionRow(nav))
	}

	container := discord.NewContainer(parts...)
	if ev, ok := event.(*events.ComponentInteractionCreate); ok {
		_ = ev.UpdateMessage(discord.NewMessageUpdate().WithIsComponentsV2(true).WithComponents(container))
	} else if ev, ok := event.(*events.ApplicationCommandInteractionCreate); ok {
		_ = ev.CreateMessage(discord.NewMessageCreate().WithIsComponentsV2(true).WithEphemeral(true).WithComponents(container))
	}
}

func handleQueuePagination(event *events.ComponentInteractionCreate) {
	menu, ok := event.Data.(discord.StringSelectMenuInteractionData)
	if !ok || len(menu.Values) == 0 {
		return
	}
	parts := strings.Split(menu.Values[0], ":")
	if len(parts) != 2 {
		return
	}
	direction, offset := parts[0], Atoi(parts[1])
	switch direction {
	case "next":
		offset += queuePageSize
	case "prev":
		offset -= queuePageSize
		if offset < 0 {
			offset = 0
		}
	}
	renderQueue(event, offset)
}

// ===========================
// Autocomplete
// ===========================

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "query" {
		return
	}
	q := strings.TrimSpace(f.String())
	if q == "" || strings.Contains(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}

	var cs []discord.AutocompleteChoice
	for i, r := range GetResolver().Suggest(q) {
		if i >= 25 {
			break
		}
		n := r.Title
		if len(n) > 100 {
			n = n[:97] + "..."
		}
		v := r.URL
		if len(v) > 100 {
			v = r.Title
			if len(v) > 100 {
				v = v[:100]
			}
		}
		cs = append(cs, discord.AutocompleteChoiceString{Name: n, Value: v})
	}
	_ = event.AutocompleteResult(cs)
}

// ===========================
// Notifier
// ===========================

// musicNotifier renders engine events into the session's text channel and
// mirrors the playing track into the voice channel status. The previous now
// playing card is collapsed to a one-liner whenever a new one is posted.
type musicNotifier struct {
	client *bot.Client

	mu    sync.Mutex
	cards map[snowflake.ID]nowPlayingCard
}

type nowPlayingCard struct {
	channelID      snowflake.ID
	messageID      snowflake.ID
	voiceChannelID snowflake.ID
	title          string
}

func newMusicNotifier(client *bot.Client) *musicNotifier {
	return &musicNotifier{
		client: client,
		cards:  make(map[snowflake.ID]nowPlayingCard),
	}
}

func (n *musicNotifier) NowPlaying(guildID, channelID snowflake.ID, track *Track) {
	n.collapseCard(guildID)

	var body strings.Builder
	fmt.Fprintf(&body, "[%s](%s)\n", track.Title, track.URI)
	if track.Author != "" {
		fmt.Fprintf(&body, "%s · ", track.Author)
	}
	fmt.Fprintf(&body, "`%s` · %s · requested by <@%s>", FormatTrackLength(track.Duration), track.Source, track.Requester)

	components := []interface{}{
		NewTextDisplay(MsgMusicNowPlayingTitle),
		NewTextDisplay(body.String()),
	}
	if track.Artwork != "" {
		components = append(components, NewMediaGallery(track.Artwork))
	}

	var voiceChannelID snowflake.ID
	if snap, err := GetPlaybackSystem().Snapshot(guildID); err == nil {
		voiceChannelID = snap.VoiceChannelID
	}

	msg, err := SendMessageV2(*n.client, channelID, NewV2Container(components...), nil)
	if err != nil {
		LogVoice("Failed to send now playing card: %v", err)
	} else {
		n.mu.Lock()
		n.cards[guildID] = nowPlayingCard{channelID: channelID, messageID: msg.ID, voiceChannelID: voiceChannelID, title: track.Title}
		n.mu.Unlock()
	}

	n.setVoiceStatus(voiceChannelID, "▶️ "+track.Title)
}

func (n *musicNotifier) PlaybackError(guildID, channelID snowflake.ID, track *Track, message string) {
	text := "⚠️ Playback error: " + message
	if track != nil {
		text = fmt.Sprintf("⚠️ Playback error for **%s**: %s", Truncate(track.Title, 80), message)
	}
	if _, err := SendMessageV2(*n.client, channelID, NewV2Container(NewTextDisplay(text)), nil); err != nil {
		LogVoice("Failed to send playback error: %v", err)
	}
}

func (n *musicNotifier) SessionEnded(guildID, channelID snowflake.ID, reason string) {
	n.clearNowPlaying(guildID)
	if _, err := SendMessageV2(*n.client, channelID, NewV2Container(NewTextDisplay(reason)), nil); err != nil {
		LogVoice("Failed to send session end notice: %v", err)
	}
}

// clearNowPlaying collapses the current card and blanks the voice status.
func (n *musicNotifier) clearNowPlaying(guildID snowflake.ID) {
	n.mu.Lock()
	card, had := n.cards[guildID]
	delete(n.cards, guildID)
	n.mu.Unlock()
	if !had {
		return
	}
	n.collapse(card)
	n.setVoiceStatus(card.voiceChannelID, "")
}

func (n *musicNotifier) collapseCard(guildID snowflake.ID) {
	n.mu.Lock()
	card, had := n.cards[guildID]
	delete(n.cards, guildID)
	n.mu.Unlock()
	if had {
		n.collapse(card)
	}
}

func (n *musicNotifier) collapse(card nowPlayingCard) {
	compact := NewV2Container(NewTextDisplay(fmt.Sprintf("Played: **%s**", Truncate(card.title, 80))))
	if _, err := EditMessageV2(*n.client, card.channelID, card.messageID, compact); err != nil {
		LogVoice("Failed to collapse now playing card: %v", err)
	}
}

// setVoiceStatus mirrors the playing track into the voice channel's status
// line. Best effort; some servers disallow it.
func (n *musicNotifier) setVoiceStatus(channelID snowflake.ID, status string) {
	if channelID == 0 {
		return
	}
	if len([]rune(status)) > 128 {
		status = TruncateCenter(status, 128)
	}
	err := n.client.Rest.Do(rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status").Compile(nil), map[string]string{"status": status}, nil)
	if err != nil {
		LogVoice("Failed to update voice status for %s: %v", channelID, err)
	}
}
