package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
)

// ============================================================================
// PHASE 1: CONFIGURATION
// ============================================================================

type Config struct {
	Token               string
	GuildID             string
	DatabasePath        string
	OwnerIDs            []string
	StreamingURL        string
	Silent              bool
	YoutubePrefix       string
	YTMusicPrefix       string
	CacheTTL            time.Duration
	IdleTimeout         time.Duration
	YtdlpCookiesPath    string
	DefaultVolume       int
	MaxPlaylistTracks   int
	LavalinkAddress     string
	LavalinkPassword    string
	LavalinkSecure      bool
	SpotifyClientID     string
	SpotifyClientSecret string
}

var GlobalConfig *Config

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		LogWarn(MsgConfigFailedToLoad, err)
	}

	cfg := &Config{
		Token:   os.Getenv("DISCORD_TOKEN"),
		GuildID: os.Getenv("GUILD_ID"),
	}

	cfg.DatabasePath = os.Getenv("DATABASE_PATH")
	if cfg.DatabasePath == "" {
		dbDir := "."
		if info, err := os.Stat("./data"); err == nil && info.IsDir() {
			dbDir = "./data"
		}
		cfg.DatabasePath = filepath.Join(dbDir, GetProjectName()+".db")
	}

	if silent := os.Getenv("SILENT"); silent != "" {
		if parsed, err := strconv.ParseBool(silent); err == nil {
			cfg.Silent = parsed
		}
	}

	cfg.StreamingURL = os.Getenv("STREAMING_URL")
	if cfg.StreamingURL == "" {
		cfg.StreamingURL = "https://www.twitch.tv/discord"
	}

	cfg.YoutubePrefix = os.Getenv("YOUTUBE_PREFIX")
	if cfg.YoutubePrefix == "" {
		cfg.YoutubePrefix = "ytsearch:"
	}

	cfg.YTMusicPrefix = os.Getenv("YTMUSIC_PREFIX")
	if cfg.YTMusicPrefix == "" {
		cfg.YTMusicPrefix = "ytmsearch:"
	}

	cfg.CacheTTL = envSeconds("YTDLP_CACHE_TTL", 1800*time.Second)
	cfg.IdleTimeout = envSeconds("IDLE_TIMEOUT", 120*time.Second)
	cfg.YtdlpCookiesPath = os.Getenv("YTDLP_COOKIES_PATH")

	cfg.DefaultVolume = 50
	if vol := os.Getenv("DEFAULT_VOLUME"); vol != "" {
		if parsed, err := strconv.Atoi(vol); err == nil {
			cfg.DefaultVolume = parsed
		}
	}

	cfg.MaxPlaylistTracks = 100
	if max := os.Getenv("MAX_PLAYLIST_TRACKS"); max != "" {
		if parsed, err := strconv.Atoi(max); err == nil && parsed > 0 {
			cfg.MaxPlaylistTracks = parsed
		}
	}

	cfg.LavalinkAddress = os.Getenv("LAVALINK_ADDRESS")
	if cfg.LavalinkAddress == "" {
		cfg.LavalinkAddress = "localhost:2333"
	}
	cfg.LavalinkPassword = os.Getenv("LAVALINK_PASSWORD")
	if cfg.LavalinkPassword == "" {
		cfg.LavalinkPassword = "youshallnotpass"
	}
	if secure := os.Getenv("LAVALINK_SECURE"); secure != "" {
		if parsed, err := strconv.ParseBool(secure); err == nil {
			cfg.LavalinkSecure = parsed
		}
	}

	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")

	if ownerIDs := os.Getenv("OWNER_IDS"); ownerIDs != "" {
		for _, id := range strings.Split(ownerIDs, ",") {
			if trimmed := strings.TrimSpace(id); trimmed != "" {
				cfg.OwnerIDs = append(cfg.OwnerIDs, trimmed)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New(MsgConfigMissingToken)
	}
	if c.GuildID != "" {
		if len(c.GuildID) < 17 || len(c.GuildID) > 20 {
			return errors.New("invalid GUILD_ID: must be a valid Snowflake")
		}
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		return errors.New("invalid DEFAULT_VOLUME: must be between 0 and 100")
	}
	return nil
}

// envSeconds reads an integer number of seconds from the environment.
func envSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// GetProjectName derives the bot's name from the executable, falling back to
// the module path when running under go run.
func GetProjectName() string {
	exe, err := os.Executable()
	if err == nil {
		name := filepath.Base(exe)
		name = strings.TrimSuffix(name, ".exe")
		if name != "main" && !strings.HasPrefix(name, "go_build_") && !strings.HasPrefix(name, "__debug_bin") {
			return name
		}
	}

	if data, err := os.ReadFile("go.mod"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "module ") {
				parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "module ")), "/")
				return parts[len(parts)-1]
			}
		}
	}

	return "bot"
}

// ============================================================================
// PHASE 2: DATABASE SETUP
// ============================================================================

var database *sql.DB

func InitDatabase(ctx context.Context, dsn string) error {
	// Keep the driver import honest even though database/sql only needs the
	// side effect of its init.
	_ = sqlite3.SQLiteDriver{}

	// Connection-scoped pragmas have to ride the DSN, otherwise pooled
	// connections beyond the first come up without them.
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			LogWarn(MsgDatabasePragmaError, pragma, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			autoplay INTEGER NOT NULL DEFAULT 0,
			default_volume INTEGER NOT NULL DEFAULT 50,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id, owner_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS playlist_tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			playlist_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			uri TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(playlist_id) REFERENCES playlists(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_tracks_playlist
			ON playlist_tracks(playlist_id, position);`,
	}

	for _, query := range tableQueries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	// Migrations for databases created before the column existed. SQLite has
	// no ADD COLUMN IF NOT EXISTS, so tolerate the duplicate error.
	migrations := []string{
		`ALTER TABLE guild_settings ADD COLUMN default_volume INTEGER NOT NULL DEFAULT 50;`,
		`ALTER TABLE playlist_tracks ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0;`,
	}
	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				LogWarn("Migration skipped: %v", err)
			}
		}
	}

	database = db
	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() error {
	if database == nil {
		return nil
	}
	return database.Close()
}

// ============================================================================
// PHASE 3: BOT CONFIG (key/value store)
// ============================================================================

func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := database.QueryRowContext(ctx,
		`SELECT value FROM bot_config WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get bot config %q: %w", key, err)
	}
	return value, nil
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO bot_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set bot config %q: %w", key, err)
	}
	return nil
}

// ============================================================================
// PHASE 4: GUILD SETTINGS
// ============================================================================

type GuildSettings struct {
	GuildID       snowflake.ID
	Autoplay      bool
	DefaultVolume int
}

// GetGuildSettings returns the stored settings for a guild, or the configured
// defaults when the guild has no row yet.
func GetGuildSettings(ctx context.Context, guildID snowflake.ID) (*GuildSettings, error) {
	settings := &GuildSettings{
		GuildID:       guildID,
		Autoplay:      false,
		DefaultVolume: GlobalConfig.DefaultVolume,
	}

	var autoplay int
	err := database.QueryRowContext(ctx,
		`SELECT autoplay, default_volume FROM guild_settings WHERE guild_id = ?`,
		guildID.String(),
	).Scan(&autoplay, &settings.DefaultVolume)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guild settings for %s: %w", guildID, err)
	}

	settings.Autoplay = autoplay != 0
	return settings, nil
}

func SetAutoplaySetting(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, autoplay, default_volume) VALUES (?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET autoplay = excluded.autoplay, updated_at = CURRENT_TIMESTAMP`,
		guildID.String(), boolToInt(enabled), GlobalConfig.DefaultVolume,
	)
	if err != nil {
		return fmt.Errorf("failed to set autoplay for %s: %w", guildID, err)
	}
	return nil
}

func SetDefaultVolume(ctx context.Context, guildID snowflake.ID, volume int) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, autoplay, default_volume) VALUES (?, 0, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET default_volume = excluded.default_volume, updated_at = CURRENT_TIMESTAMP`,
		guildID.String(), volume,
	)
	if err != nil {
		return fmt.Errorf("failed to set default volume for %s: %w", guildID, err)
	}
	return nil
}

// ============================================================================
// PHASE 5: PLAYLISTS
// ============================================================================

type PlaylistInfo struct {
	ID         int64
	Name       string
	OwnerID    snowflake.ID
	TrackCount int
	CreatedAt  time.Time
}

// ErrPlaylistExists is returned by CreatePlaylist when the owner already has
// a playlist of that name in the guild.
var ErrPlaylistExists = errors.New("playlist already exists")

func CreatePlaylist(ctx context.Context, guildID, ownerID snowflake.ID, name string) (int64, error) {
	result, err := database.ExecContext(ctx,
		`INSERT INTO playlists (guild_id, owner_id, name) VALUES (?, ?, ?)`,
		guildID.String(), ownerID.String(), name,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrPlaylistExists
		}
		return 0, fmt.Errorf("failed to create playlist %q: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read playlist id: %w", err)
	}
	return id, nil
}

// DeletePlaylist removes a playlist and, through the cascade, its tracks.
// Returns false when no playlist matched.
func DeletePlaylist(ctx context.Context, guildID, ownerID snowflake.ID, name string) (bool, error) {
	result, err := database.ExecContext(ctx,
		`DELETE FROM playlists WHERE guild_id = ? AND owner_id = ? AND name = ?`,
		guildID.String(), ownerID.String(), name,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete playlist %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// GetPlaylistID resolves a playlist by owner and name. Returns 0 when the
// playlist does not exist.
func GetPlaylistID(ctx context.Context, guildID, ownerID snowflake.ID, name string) (int64, error) {
	var id int64
	err := database.QueryRowContext(ctx,
		`SELECT id FROM playlists WHERE guild_id = ? AND owner_id = ? AND name = ?`,
		guildID.String(), ownerID.String(), name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up playlist %q: %w", name, err)
	}
	return id, nil
}

// ListPlaylists returns the owner's playlists in a guild with track counts,
// newest first.
func ListPlaylists(ctx context.Context, guildID, ownerID snowflake.ID) ([]*PlaylistInfo, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT p.id, p.name, p.owner_id, p.created_at, COUNT(t.id)
		 FROM playlists p
		 LEFT JOIN playlist_tracks t ON t.playlist_id = p.id
		 WHERE p.guild_id = ? AND p.owner_id = ?
		 GROUP BY p.id
		 ORDER BY p.created_at DESC`,
		guildID.String(), ownerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*PlaylistInfo
	for rows.Next() {
		var (
			info    PlaylistInfo
			ownerID string
		)
		if err := rows.Scan(&info.ID, &info.Name, &ownerID, &info.CreatedAt, &info.TrackCount); err != nil {
			return nil, fmt.Errorf("failed to scan playlist row: %w", err)
		}
		owner, err := snowflake.Parse(ownerID)
		if err != nil {
			return nil, fmt.Errorf("invalid owner id %q in playlist %d: %w", ownerID, info.ID, err)
		}
		info.OwnerID = owner
		playlists = append(playlists, &info)
	}
	return playlists, rows.Err()
}

func AddPlaylistTrack(ctx context.Context, playlistID int64, position int, track *Track) error {
	_, err := database.ExecContext(ctx,
		`INSERT INTO playlist_tracks (playlist_id, position, uri, title, author, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		playlistID, position, track.URI, track.Title, track.Author, track.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to add track to playlist %d: %w", playlistID, err)
	}
	return nil
}

// GetPlaylistTracks returns the stored tracks in playlist order. Requester is
// left zero; callers stamp it when enqueueing.
func GetPlaylistTracks(ctx context.Context, playlistID int64) ([]*Track, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT uri, title, author, duration_ms FROM playlist_tracks
		 WHERE playlist_id = ? ORDER BY position ASC`,
		playlistID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist %d: %w", playlistID, err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		var (
			track      Track
			durationMS int64
		)
		if err := rows.Scan(&track.URI, &track.Title, &track.Author, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan playlist track: %w", err)
		}
		track.Duration = time.Duration(durationMS) * time.Millisecond
		track.Source = sourceFromURI(track.URI)
		tracks = append(tracks, &track)
	}
	return tracks, rows.Err()
}

func ClearPlaylistTracks(ctx context.Context, playlistID int64) error {
	_, err := database.ExecContext(ctx,
		`DELETE FROM playlist_tracks WHERE playlist_id = ?`, playlistID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear playlist %d: %w", playlistID, err)
	}
	return nil
}

// CountPlaylistTracks returns the number of tracks saved in a playlist.
func CountPlaylistTracks(ctx context.Context, playlistID int64) (int, error) {
	var count int
	err := database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?`, playlistID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count playlist %d: %w", playlistID, err)
	}
	return count, nil
}
