package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// ===========================
// Messages
// ===========================

const (
	MsgResolverExtractFail  = "yt-dlp extraction failed for %q: %v"
	MsgResolverSearchFail   = "%s search failed for %q: %v"
	MsgResolverSpotifyFail  = "Spotify lookup failed for %s %q: %v"
	MsgResolverCachePruned  = "Pruned %d expired entries (%d live)"
	MsgResolverAutoplayHits = "Autoplay: found %d candidates for %q"
)

// ===========================
// Result Types
// ===========================

// Playlist is an ordered group of tracks resolved from a single playlist,
// album, or mix link. Track order matches the source collection.
type Playlist struct {
	Name   string
	Tracks []*Track
}

// ResolveResult carries whatever a query resolved to: individual tracks,
// a whole playlist, or nothing.
type ResolveResult struct {
	Tracks   []*Track
	Playlist *Playlist
}

// Empty reports whether resolution produced nothing playable.
func (r *ResolveResult) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.Tracks) == 0 && (r.Playlist == nil || len(r.Playlist.Tracks) == 0)
}

// SearchResult is one autocomplete suggestion.
type SearchResult struct {
	Title string
	URL   string
}

var spotifyLinkRegex = regexp.MustCompile(`^https?://open\.spotify\.com/(?:intl-[a-z]+/)?(track|album|playlist)/([a-zA-Z0-9]+)`)
var urlTokenRegex = regexp.MustCompile(`https?://\S+`)

// ===========================
// Resolver
// ===========================

// Resolver turns user queries into playable tracks. The fallback order is
// fixed: Spotify links, explicit search directives, YouTube URLs through
// yt-dlp extraction, other URLs passed through, and finally free text via
// yt-dlp top-1 then YouTube then YouTube Music search.
type Resolver struct {
	cache    *ResolutionCache
	cacheTTL time.Duration
	limiter  *rate.Limiter

	// Backend seams. Nil fields use the real clients; tests inject fakes
	// to pin the fallback order without network.
	extractFn   func(ctx context.Context, target string) (*ytdlpMetadata, bool)
	ytSearchFn  func(ctx context.Context, query string, requester snowflake.ID) []*Track
	ytmSearchFn func(ctx context.Context, query string, requester snowflake.ID) []*Track

	suggestMu sync.RWMutex
	suggest   map[string]suggestEntry

	spotifyMu     sync.Mutex
	spotifyClient *spotify.Client
}

type suggestEntry struct {
	results   []SearchResult
	expiresAt time.Time
}

var (
	resolverOnce     sync.Once
	resolverInstance *Resolver
)

func init() {
	OnClientReady(func(ctx context.Context, client *bot.Client) {
		RegisterDaemon(LogCache, GetResolver().startCacheJanitor)
	})
}

// GetResolver returns the process-wide resolver, creating it on first use.
func GetResolver() *Resolver {
	resolverOnce.Do(func() {
		ttl := 1800 * time.Second
		if GlobalConfig != nil && GlobalConfig.CacheTTL > 0 {
			ttl = GlobalConfig.CacheTTL
		}
		resolverInstance = &Resolver{
			cache:    NewResolutionCache(),
			cacheTTL: ttl,
			limiter:  rate.NewLimiter(rate.Limit(2), 4),
			suggest:  make(map[string]suggestEntry),
		}
	})
	return resolverInstance
}

// CacheSize returns how many resolution entries are currently held.
func (r *Resolver) CacheSize() int {
	return r.cache.Len()
}

// startCacheJanitor sweeps expired resolution and suggestion entries.
func (r *Resolver) startCacheJanitor(ctx context.Context) (bool, func(), func()) {
	stop := make(chan struct{})

	run := func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if n := r.cache.Prune(); n > 0 {
					LogCache(MsgResolverCachePruned, n, r.cache.Len())
				}
				r.pruneSuggestions()
			}
		}
	}

	return true, run, func() { close(stop) }
}

func (r *Resolver) pruneSuggestions() {
	r.suggestMu.Lock()
	defer r.suggestMu.Unlock()
	now := time.Now()
	for key, entry := range r.suggest {
		if !now.Before(entry.expiresAt) {
			delete(r.suggest, key)
		}
	}
}

func (r *Resolver) extract(ctx context.Context, target string) (*ytdlpMetadata, bool) {
	if r.extractFn != nil {
		return r.extractFn(ctx, target)
	}
	return r.extractDirect(ctx, target)
}

func (r *Resolver) ytSearch(ctx context.Context, query string, requester snowflake.ID) []*Track {
	if r.ytSearchFn != nil {
		return r.ytSearchFn(ctx, query, requester)
	}
	return r.searchYouTube(ctx, query, requester)
}

func (r *Resolver) ytmSearch(ctx context.Context, query string, requester snowflake.ID) []*Track {
	if r.ytmSearchFn != nil {
		return r.ytmSearchFn(ctx, query, requester)
	}
	return r.searchYTMusic(ctx, query, requester)
}

// SanitizeQuery trims the query and, when it contains a URL anywhere in the
// text, keeps only the first URL-looking token. Pasted links wrapped in
// extra words would otherwise resolve as garbage searches.
func SanitizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if match := urlTokenRegex.FindString(query); match != "" {
		return match
	}
	return query
}

// Resolve runs the fallback chain for a sanitized query. Backend errors are
// absorbed and logged; an exhausted chain returns an empty result, never an
// error. The requester is stamped on every produced track.
func (r *Resolver) Resolve(ctx context.Context, query string, requester snowflake.ID) *ResolveResult {
	query = SanitizeQuery(query)
	if query == "" {
		return &ResolveResult{}
	}

	// 1. Spotify links bypass the cache: collections are not one-URI entries.
	if m := spotifyLinkRegex.FindStringSubmatch(query); m != nil {
		return r.resolveSpotify(ctx, m[1], m[2], requester)
	}

	// 2. Explicit source directives search one backend only.
	ytp, ytmp := getYoutubePrefix(), getYTMusicPrefix()
	if strings.HasPrefix(strings.ToLower(query), strings.ToLower(ytp)) {
		text := strings.TrimSpace(query[len(ytp):])
		return &ResolveResult{Tracks: r.ytSearch(ctx, text, requester)}
	}
	if strings.HasPrefix(strings.ToLower(query), strings.ToLower(ytmp)) {
		text := strings.TrimSpace(query[len(ytmp):])
		return &ResolveResult{Tracks: r.ytmSearch(ctx, text, requester)}
	}

	// 3. YouTube URLs go through yt-dlp extraction for a direct stream URL;
	// on failure the original URL is handed to the transport unmodified.
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		if strings.Contains(query, "youtube.com") || strings.Contains(query, "youtu.be") {
			if meta, ok := r.extract(ctx, query); ok {
				return &ResolveResult{Tracks: []*Track{{
					URI:       meta.URL,
					Title:     meta.Title,
					Author:    meta.Uploader,
					Duration:  meta.Duration,
					Source:    SourceStream,
					Requester: requester,
				}}}
			}
		}
		// 4. Any other URL is passed through; the transport fills metadata.
		return &ResolveResult{Tracks: []*Track{{
			URI:       query,
			Source:    sourceFromURI(query),
			Requester: requester,
		}}}
	}

	// 5. Free text: yt-dlp top-1, then YouTube search, then YouTube Music.
	if meta, ok := r.extract(ctx, "ytsearch1:"+query); ok {
		return &ResolveResult{Tracks: []*Track{{
			URI:       meta.URL,
			Title:     meta.Title,
			Author:    meta.Uploader,
			Duration:  meta.Duration,
			Source:    SourceStream,
			Requester: requester,
		}}}
	}
	if tracks := r.ytSearch(ctx, query, requester); len(tracks) > 0 {
		return &ResolveResult{Tracks: tracks}
	}
	return &ResolveResult{Tracks: r.ytmSearch(ctx, query, requester)}
}

// ===========================
// yt-dlp Extraction
// ===========================

type ytdlpMetadata struct {
	URL      string
	Title    string
	Uploader string
	Duration time.Duration
	ID       string
}

// extractDirect resolves a URL or ytsearchN: identifier to a direct stream
// URL through the resolution cache. Cache hits skip the subprocess and carry
// no metadata; the transport fills titles in that case.
func (r *Resolver) extractDirect(ctx context.Context, target string) (*ytdlpMetadata, bool) {
	if uri, ok := r.cache.Get(target); ok {
		return &ytdlpMetadata{URL: uri}, true
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, false
	}

	meta, err := ytdlpExtractMetadata(ctx, target)
	if err != nil {
		LogResolver(MsgResolverExtractFail, target, err)
		return nil, false
	}

	r.cache.Put(target, meta.URL, r.cacheTTL)
	return meta, true
}

var jsOnce sync.Once
var cachedJSArgs []string

// newYtdlp returns a new yt-dlp command with quiet output and the
// configured proxy and cookie jar applied.
func newYtdlp() (*ytdlp.Command, func()) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}
	if GlobalConfig != nil && GlobalConfig.YtdlpCookiesPath != "" {
		cmd.Cookies(GlobalConfig.YtdlpCookiesPath)
	}

	return cmd, func() {}
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "3",
	)
	return args
}

func ytdlpExtractMetadata(ctx context.Context, target string) (*ytdlpMetadata, error) {
	target = strings.Replace(target, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp()
	defer cleanup()

	args := buildYtdlpArgs()
	args = append(args, "-f", "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best")
	res, err := cmd.
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(id)s").
		NoWarnings().
		IgnoreConfig().
		Run(ctx, append(args, "--skip-download", target)...)

	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("%w (stderr: %s)", err, Truncate(res.Stderr, 200))
		}
		return nil, err
	}

	ls := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	for _, l := range ls {
		ps := strings.Split(l, "\t")
		if len(ps) < 5 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		return &ytdlpMetadata{URL: ps[0], Title: ps[1], Uploader: ps[2], Duration: d, ID: ps[4]}, nil
	}
	return nil, errors.New("failed to parse metadata")
}

// ===========================
// Search Backends
// ===========================

const maxSearchResults = 5

func (r *Resolver) searchYouTube(ctx context.Context, query string, requester snowflake.ID) []*Track {
	if query == "" {
		return nil
	}
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, query)
	if err != nil {
		LogResolver(MsgResolverSearchFail, "YouTube", query, err)
		return nil
	}

	var tracks []*Track
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		tracks = append(tracks, &Track{
			URI:       "https://www.youtube.com/watch?v=" + v.VideoID,
			Title:     v.Title,
			Author:    v.Channel,
			Source:    SourceYouTube,
			Requester: requester,
		})
		if len(tracks) >= maxSearchResults {
			break
		}
	}
	return tracks
}

func (r *Resolver) searchYTMusic(ctx context.Context, query string, requester snowflake.ID) []*Track {
	if query == "" {
		return nil
	}
	s := ytmusic.TrackSearch(query)
	res, err := s.Next()
	if err != nil {
		LogResolver(MsgResolverSearchFail, "YouTube Music", query, err)
		return nil
	}

	var tracks []*Track
	for _, v := range res.Tracks {
		if v.VideoID == "" {
			continue
		}
		author := ""
		if len(v.Artists) > 0 {
			author = v.Artists[0].Name
		}
		tracks = append(tracks, &Track{
			URI:       "https://music.youtube.com/watch?v=" + v.VideoID,
			Title:     v.Title,
			Author:    author,
			Source:    SourceYTMusic,
			Requester: requester,
		})
		if len(tracks) >= maxSearchResults {
			break
		}
	}
	return tracks
}

// ===========================
// Spotify
// ===========================

// getSpotifyClient lazily builds a client-credentials Spotify client. The
// oauth2 transport refreshes its token as needed, so one client serves the
// whole process.
func (r *Resolver) getSpotifyClient(ctx context.Context) (*spotify.Client, error) {
	r.spotifyMu.Lock()
	defer r.spotifyMu.Unlock()

	if r.spotifyClient != nil {
		return r.spotifyClient, nil
	}

	cfg := GlobalConfig
	if cfg == nil || cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, errors.New("spotify credentials are not configured")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	r.spotifyClient = spotify.New(creds.Client(ctx), spotify.WithRetry(true))
	return r.spotifyClient, nil
}

// resolveSpotify maps a Spotify link to playable tracks. Spotify only hands
// out metadata, so each track resolves to a deferred YouTube search
// identifier the transport loads at play time.
func (r *Resolver) resolveSpotify(ctx context.Context, kind, id string, requester snowflake.ID) *ResolveResult {
	client, err := r.getSpotifyClient(ctx)
	if err != nil {
		LogResolver(MsgResolverSpotifyFail, kind, id, err)
		return &ResolveResult{}
	}

	switch kind {
	case "track":
		full, err := client.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			LogResolver(MsgResolverSpotifyFail, kind, id, err)
			return &ResolveResult{}
		}
		return &ResolveResult{Tracks: []*Track{spotifyTrack(full, requester)}}

	case "album":
		album, err := client.GetAlbum(ctx, spotify.ID(id))
		if err != nil {
			LogResolver(MsgResolverSpotifyFail, kind, id, err)
			return &ResolveResult{}
		}
		artwork := ""
		if len(album.Images) > 0 {
			artwork = album.Images[0].URL
		}
		playlist := &Playlist{Name: album.Name}
		for _, st := range album.Tracks.Tracks {
			playlist.Tracks = append(playlist.Tracks, simpleSpotifyTrack(st, artwork, requester))
			if len(playlist.Tracks) >= maxPlaylistTracks() {
				break
			}
		}
		return &ResolveResult{Playlist: playlist}

	case "playlist":
		meta, err := client.GetPlaylist(ctx, spotify.ID(id))
		if err != nil {
			LogResolver(MsgResolverSpotifyFail, kind, id, err)
			return &ResolveResult{}
		}
		playlist := &Playlist{Name: meta.Name}

		page, err := client.GetPlaylistItems(ctx, spotify.ID(id))
		if err != nil {
			LogResolver(MsgResolverSpotifyFail, kind, id, err)
			return &ResolveResult{}
		}
		for {
			for _, item := range page.Items {
				if item.Track.Track == nil {
					continue
				}
				playlist.Tracks = append(playlist.Tracks, spotifyTrack(item.Track.Track, requester))
				if len(playlist.Tracks) >= maxPlaylistTracks() {
					return &ResolveResult{Playlist: playlist}
				}
			}
			err = client.NextPage(ctx, page)
			if errors.Is(err, spotify.ErrNoMorePages) {
				break
			}
			if err != nil {
				LogResolver(MsgResolverSpotifyFail, kind, id, err)
				break
			}
		}
		return &ResolveResult{Playlist: playlist}
	}

	return &ResolveResult{}
}

func maxPlaylistTracks() int {
	if GlobalConfig != nil && GlobalConfig.MaxPlaylistTracks > 0 {
		return GlobalConfig.MaxPlaylistTracks
	}
	return 100
}

func spotifyTrack(full *spotify.FullTrack, requester snowflake.ID) *Track {
	artists := make([]string, len(full.Artists))
	for i, a := range full.Artists {
		artists[i] = a.Name
	}
	author := strings.Join(artists, ", ")

	artwork := ""
	if len(full.Album.Images) > 0 {
		artwork = full.Album.Images[0].URL
	}

	search := full.Name
	if len(artists) > 0 {
		search += " " + artists[0]
	}

	return &Track{
		URI:       getYoutubePrefix() + search,
		Title:     full.Name,
		Author:    author,
		Duration:  full.TimeDuration(),
		Artwork:   artwork,
		Source:    SourceSpotify,
		Requester: requester,
	}
}

func simpleSpotifyTrack(st spotify.SimpleTrack, artwork string, requester snowflake.ID) *Track {
	artists := make([]string, len(st.Artists))
	for i, a := range st.Artists {
		artists[i] = a.Name
	}
	author := strings.Join(artists, ", ")

	search := st.Name
	if len(artists) > 0 {
		search += " " + artists[0]
	}

	return &Track{
		URI:       getYoutubePrefix() + search,
		Title:     st.Name,
		Author:    author,
		Duration:  st.TimeDuration(),
		Artwork:   artwork,
		Source:    SourceSpotify,
		Requester: requester,
	}
}

// ===========================
// Autoplay
// ===========================

// RelatedTrack finds a continuation for a finished track by searching
// YouTube for "title author" and taking the second result; the first is
// nearly always the same track again. Fewer than two results means no
// continuation.
func (r *Resolver) RelatedTrack(ctx context.Context, finished *Track) *Track {
	if finished == nil {
		return nil
	}

	query := strings.TrimSpace(finished.Title + " " + finished.Author)
	if query == "" {
		return nil
	}

	candidates := r.ytSearch(ctx, query, finished.Requester)
	LogResolver(MsgResolverAutoplayHits, len(candidates), query)
	return pickRelated(candidates)
}

// pickRelated selects the autoplay candidate from search hits: always the
// second result, because the first is usually the upload that just finished.
// Fewer than two hits means there is no safe pick.
func pickRelated(candidates []*Track) *Track {
	if len(candidates) < 2 {
		return nil
	}
	return candidates[1]
}

// ===========================
// Autocomplete
// ===========================

func getYoutubePrefix() string {
	if GlobalConfig != nil && GlobalConfig.YoutubePrefix != "" {
		return GlobalConfig.YoutubePrefix
	}
	return "ytsearch:"
}

func getYTMusicPrefix() string {
	if GlobalConfig != nil && GlobalConfig.YTMusicPrefix != "" {
		return GlobalConfig.YTMusicPrefix
	}
	return "ytmsearch:"
}

// Suggest returns ranked autocomplete entries for a partial query, searching
// YouTube and YouTube Music in parallel under a hard time budget. Results
// are cached for an hour per query.
func (r *Resolver) Suggest(q string) []SearchResult {
	// 1. Check Cache
	r.suggestMu.RLock()
	if entry, ok := r.suggest[q]; ok {
		if time.Now().Before(entry.expiresAt) {
			r.suggestMu.RUnlock()
			return entry.results
		}
	}
	r.suggestMu.RUnlock()

	src, query := "ytmusic", q
	ytp, ytmp := getYoutubePrefix(), getYTMusicPrefix()
	if strings.HasPrefix(strings.ToLower(q), strings.ToLower(ytp)) {
		src, query = "youtube", strings.TrimSpace(q[len(ytp):])
	} else if strings.HasPrefix(strings.ToLower(q), strings.ToLower(ytmp)) {
		query = strings.TrimSpace(q[len(ytmp):])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()

	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		out := suggestYTMusic(query)
		resMu.Lock()
		ytm = out
		resMu.Unlock()
	}()
	go func() {
		defer wg.Done()
		out := suggestYouTube(ctx, query)
		resMu.Lock()
		yt = out
		resMu.Unlock()
	}()

	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}

	resMu.Lock()
	defer resMu.Unlock()
	var fin []SearchResult
	if src == "youtube" {
		fin = mergeSuggestions(yt, ytm)
	} else {
		fin = mergeSuggestions(ytm, yt)
	}
	if len(fin) > 25 {
		fin = fin[:25]
	}

	// 2. Update Cache (TTL 1 hour)
	if len(fin) > 0 {
		r.suggestMu.Lock()
		r.suggest[q] = suggestEntry{results: fin, expiresAt: time.Now().Add(1 * time.Hour)}
		r.suggestMu.Unlock()
	}

	return fin
}

func suggestYTMusic(query string) []SearchResult {
	s := ytmusic.TrackSearch(query)
	res, _ := s.Next()
	if res == nil {
		return nil
	}
	var out []SearchResult
	for _, v := range res.Tracks {
		if v.VideoID == "" {
			continue
		}
		art := ""
		if len(v.Artists) > 0 {
			art = " - " + v.Artists[0].Name
		}
		out = append(out, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YTM] ", art)})
	}
	return out
}

func suggestYouTube(ctx context.Context, query string) []SearchResult {
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, query)
	if err != nil {
		return nil
	}
	var out []SearchResult
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		out = append(out, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YT] ", "")})
	}
	return out
}

// mergeSuggestions concatenates two ranked lanes, dropping entries whose
// video ID already appeared. Both catalogs use watch?v= URLs, so the ID is
// the URL tail.
func mergeSuggestions(primary, secondary []SearchResult) []SearchResult {
	seen := make(map[string]bool)
	var out []SearchResult
	for _, r := range append(append([]SearchResult{}, primary...), secondary...) {
		id := r.URL
		if i := strings.LastIndex(r.URL, "watch?v="); i >= 0 {
			id = r.URL[i+len("watch?v="):]
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

// ===========================
// URI Classification
// ===========================

// sourceFromURI guesses the catalog for a stored or pasted URI. Display
// metadata only, never used for routing.
func sourceFromURI(uri string) TrackSource {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, strings.ToLower(getYTMusicPrefix())):
		return SourceYTMusic
	case strings.HasPrefix(lower, strings.ToLower(getYoutubePrefix())):
		return SourceYouTube
	case strings.Contains(lower, "open.spotify.com"):
		return SourceSpotify
	case strings.Contains(lower, "music.youtube.com"):
		return SourceYTMusic
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return SourceYouTube
	default:
		return SourceStream
	}
}
