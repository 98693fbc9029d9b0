package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// ===========================
// Command Registration
// ===========================

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "playlist",
		Description: "Saved playlists",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "create",
				Description: "Create an empty playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "name",
						Description: "Playlist name",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "delete",
				Description: "Delete one of your playlists",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Playlist name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List your playlists",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "add",
				Description: "Add a track to a playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Playlist name",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "query",
						Description: "URL, Spotify link, or song name",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "save",
				Description: "Save the current queue as a playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Playlist name (created if missing, contents replaced)",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "tracks",
				Description: "Show the tracks in a playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Playlist name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Queue a saved playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Playlist name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
		},
	}, handlePlaylist)

	RegisterAutocompleteHandler("playlist", handlePlaylistAutocomplete)
}

// ===========================
// Messages
// ===========================

const (
	MsgPlaylistCreated     = "Created playlist **%s**."
	MsgPlaylistDeleted     = "Deleted playlist **%s**."
	MsgPlaylistExists      = "You already have a playlist named **%s**."
	MsgPlaylistNotFound    = "You don't have a playlist named **%s**."
	MsgPlaylistEmpty       = "Playlist **%s** is empty."
	MsgPlaylistFull        = "Playlist **%s** is full (%d tracks max)."
	MsgPlaylistAdded       = "Added **%d** track(s) to **%s**."
	MsgPlaylistSaved       = "Saved **%d** track(s) to **%s**."
	MsgPlaylistQueued      = "Queued **%d** track(s) from **%s**."
	MsgPlaylistNameInvalid = "Playlist names must be 1-64 characters."
	MsgPlaylistNoneYet     = "_You have no playlists yet. Create one with `/playlist create`._"
	MsgPlaylistNothingSave = "There's nothing in the queue to save."
)

const playlistNameMaxLen = 64

// ===========================
// Dispatch
// ===========================

func handlePlaylist(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil || event.GuildID() == nil {
		return
	}
	switch *data.SubCommandName {
	case "create":
		handlePlaylistCreate(event, data)
	case "delete":
		handlePlaylistDelete(event, data)
	case "list":
		handlePlaylistList(event)
	case "add":
		handlePlaylistAdd(event, data)
	case "save":
		handlePlaylistSave(event, data)
	case "tracks":
		handlePlaylistTracks(event, data)
	case "play":
		handlePlaylistPlay(event, data)
	}
}

// playlistName validates and normalizes the name option.
func playlistName(data discord.SlashCommandInteractionData) (string, error) {
	name := strings.TrimSpace(data.String("name"))
	if name == "" || len([]rune(name)) > playlistNameMaxLen {
		return "", userErrorf(MsgPlaylistNameInvalid)
	}
	return name, nil
}

// ===========================
// Handlers
// ===========================

func handlePlaylistCreate(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}

	ctx, cancel := commandContext()
	defer cancel()
	if _, err := CreatePlaylist(ctx, *event.GuildID(), event.User().ID, name); err != nil {
		if errors.Is(err, ErrPlaylistExists) {
			respondMusic(event, fmt.Sprintf(MsgPlaylistExists, name), true)
			return
		}
		respondMusicError(event, err)
		return
	}
	LogPlaylist("User %s (%s) created playlist %q in guild %s", event.User().Username, event.User().ID, name, *event.GuildID())
	respondMusic(event, fmt.Sprintf(MsgPlaylistCreated, name), false)
}

func handlePlaylistDelete(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}

	ctx, cancel := commandContext()
	defer cancel()
	deleted, err := DeletePlaylist(ctx, *event.GuildID(), event.User().ID, name)
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if !deleted {
		respondMusic(event, fmt.Sprintf(MsgPlaylistNotFound, name), true)
		return
	}
	LogPlaylist("User %s (%s) deleted playlist %q in guild %s", event.User().Username, event.User().ID, name, *event.GuildID())
	respondMusic(event, fmt.Sprintf(MsgPlaylistDeleted, name), false)
}

func handlePlaylistList(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := commandContext()
	defer cancel()
	playlists, err := ListPlaylists(ctx, *event.GuildID(), event.User().ID)
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if len(playlists) == 0 {
		respondMusic(event, MsgPlaylistNoneYet, true)
		return
	}

	var body strings.Builder
	fmt.Fprintf(&body, "**Your playlists** · %d\n", len(playlists))
	for i, p := range playlists {
		fmt.Fprintf(&body, "`%d.` **%s** · %d track(s)\n", i+1, Truncate(p.Name, 60), p.TrackCount)
	}
	respondMusic(event, body.String(), true)
}

func handlePlaylistAdd(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}
	query := strings.TrimSpace(data.String("query"))

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	playlistID, err := GetPlaylistID(ctx, *event.GuildID(), event.User().ID, name)
	if err != nil {
		editMusicError(event, err)
		return
	}
	if playlistID == 0 {
		editMusic(event, fmt.Sprintf(MsgPlaylistNotFound, name))
		return
	}

	count, err := CountPlaylistTracks(ctx, playlistID)
	if err != nil {
		editMusicError(event, err)
		return
	}
	room := maxPlaylistTracks() - count
	if room <= 0 {
		editMusic(event, fmt.Sprintf(MsgPlaylistFull, name, maxPlaylistTracks()))
		return
	}

	result := GetResolver().Resolve(ctx, query, event.User().ID)
	if result.Empty() {
		editMusic(event, fmt.Sprintf(MsgMusicNoResults, Truncate(query, 80)))
		return
	}
	tracks := result.Tracks[:1]
	if result.Playlist != nil {
		tracks = result.Playlist.Tracks
	}
	if len(tracks) > room {
		tracks = tracks[:room]
	}

	for i, track := range tracks {
		if err := AddPlaylistTrack(ctx, playlistID, count+i, track); err != nil {
			editMusicError(event, err)
			return
		}
	}
	editMusic(event, fmt.Sprintf(MsgPlaylistAdded, len(tracks), name))
}

func handlePlaylistSave(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}

	snap, err := GetPlaybackSystem().Snapshot(*event.GuildID())
	if err != nil {
		respondMusicError(event, err)
		return
	}
	var tracks []*Track
	if snap.Current != nil {
		tracks = append(tracks, snap.Current)
	}
	tracks = append(tracks, snap.Upcoming...)
	if len(tracks) == 0 {
		respondMusic(event, MsgPlaylistNothingSave, true)
		return
	}
	if len(tracks) > maxPlaylistTracks() {
		tracks = tracks[:maxPlaylistTracks()]
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	playlistID, err := GetPlaylistID(ctx, *event.GuildID(), event.User().ID, name)
	if err != nil {
		editMusicError(event, err)
		return
	}
	if playlistID == 0 {
		playlistID, err = CreatePlaylist(ctx, *event.GuildID(), event.User().ID, name)
		if err != nil {
			editMusicError(event, err)
			return
		}
	} else if err := ClearPlaylistTracks(ctx, playlistID); err != nil {
		editMusicError(event, err)
		return
	}

	for i, track := range tracks {
		if err := AddPlaylistTrack(ctx, playlistID, i, track); err != nil {
			editMusicError(event, err)
			return
		}
	}
	LogPlaylist("User %s (%s) saved %d tracks to playlist %q in guild %s", event.User().Username, event.User().ID, len(tracks), name, *event.GuildID())
	editMusic(event, fmt.Sprintf(MsgPlaylistSaved, len(tracks), name))
}

func handlePlaylistTracks(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}

	ctx, cancel := commandContext()
	defer cancel()
	playlistID, err := GetPlaylistID(ctx, *event.GuildID(), event.User().ID, name)
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if playlistID == 0 {
		respondMusic(event, fmt.Sprintf(MsgPlaylistNotFound, name), true)
		return
	}
	tracks, err := GetPlaylistTracks(ctx, playlistID)
	if err != nil {
		respondMusicError(event, err)
		return
	}
	if len(tracks) == 0 {
		respondMusic(event, fmt.Sprintf(MsgPlaylistEmpty, name), true)
		return
	}

	var totalLength time.Duration
	for _, t := range tracks {
		totalLength += t.Duration
	}

	var body strings.Builder
	fmt.Fprintf(&body, "**%s** · %d track(s) · %s\n", Truncate(name, 60), len(tracks), FormatTrackTime(totalLength))
	for i, t := range tracks {
		if i >= 10 {
			fmt.Fprintf(&body, "*...and %d more*", len(tracks)-10)
			break
		}
		fmt.Fprintf(&body, "`%d.` [%s](%s) `%s`\n", i+1, Truncate(t.Title, 60), t.URI, FormatTrackLength(t.Duration))
	}
	respondMusic(event, body.String(), true)
}

func handlePlaylistPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name, err := playlistName(data)
	if err != nil {
		respondMusicError(event, err)
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	playlistID, err := GetPlaylistID(ctx, *event.GuildID(), event.User().ID, name)
	if err != nil {
		editMusicError(event, err)
		return
	}
	if playlistID == 0 {
		editMusic(event, fmt.Sprintf(MsgPlaylistNotFound, name))
		return
	}
	tracks, err := GetPlaylistTracks(ctx, playlistID)
	if err != nil {
		editMusicError(event, err)
		return
	}
	if len(tracks) == 0 {
		editMusic(event, fmt.Sprintf(MsgPlaylistEmpty, name))
		return
	}
	for _, t := range tracks {
		t.Requester = event.User().ID
	}

	if _, _, err := ensureSession(ctx, event); err != nil {
		editMusicError(event, err)
		return
	}
	if _, err := GetPlaybackSystem().PlayTracks(ctx, *event.GuildID(), tracks); err != nil {
		editMusicError(event, err)
		return
	}
	LogPlaylist("User %s (%s) queued playlist %q (%d tracks) in guild %s", event.User().Username, event.User().ID, name, len(tracks), *event.GuildID())
	editMusic(event, fmt.Sprintf(MsgPlaylistQueued, len(tracks), name))
}

// ===========================
// Autocomplete
// ===========================

func handlePlaylistAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "name" || event.GuildID() == nil {
		return
	}
	q := strings.TrimSpace(f.String())

	ctx, cancel := commandContext()
	defer cancel()
	playlists, err := ListPlaylists(ctx, *event.GuildID(), event.User().ID)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var cs []discord.AutocompleteChoice
	for _, p := range playlists {
		if q != "" && !ContainsLower(p.Name, q) {
			continue
		}
		cs = append(cs, discord.AutocompleteChoiceString{Name: p.Name, Value: p.Name})
		if len(cs) >= 25 {
			break
		}
	}
	_ = event.AutocompleteResult(cs)
}
