package main

import (
	"context"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain text trimmed", "  hello world  ", "hello world"},
		{"url extracted from chatter", "play this https://youtu.be/abc for me", "https://youtu.be/abc"},
		{"first url wins", "https://a.example/x https://b.example/y", "https://a.example/x"},
		{"bare url untouched", "https://www.youtube.com/watch?v=abc", "https://www.youtube.com/watch?v=abc"},
		{"empty stays empty", "   ", ""},
		{"no url passthrough", "lofi hip hop radio", "lofi hip hop radio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeQuery(tt.query); got != tt.want {
				t.Errorf("SanitizeQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestSpotifyLinkRegex(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantKind string
		wantID   string
	}{
		{"track", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
		{"album", "https://open.spotify.com/album/1ATL5GLyefJaxhQzSPVrLX", "album", "1ATL5GLyefJaxhQzSPVrLX"},
		{"playlist", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "playlist", "37i9dQZF1DXcBWIGoYBM5M"},
		{"intl segment", "https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
		{"share suffix ignored", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123", "track", "4uLU6hMCjMI75M1A2tKUQC"},
		{"http scheme", "http://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", "track", "4uLU6hMCjMI75M1A2tKUQC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := spotifyLinkRegex.FindStringSubmatch(tt.url)
			if m == nil {
				t.Fatalf("no match for %q", tt.url)
			}
			if m[1] != tt.wantKind || m[2] != tt.wantID {
				t.Errorf("match = (%q, %q), want (%q, %q)", m[1], m[2], tt.wantKind, tt.wantID)
			}
		})
	}

	for _, url := range []string{
		"https://open.spotify.com/artist/0OdUWJ0sBjDrqHygGUXeCF",
		"https://spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
		"some text https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
	} {
		if spotifyLinkRegex.FindStringSubmatch(url) != nil {
			t.Errorf("%q should not match", url)
		}
	}
}

func TestSourceFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want TrackSource
	}{
		{"ytmsearch:never gonna", SourceYTMusic},
		{"ytsearch:never gonna", SourceYouTube},
		{"https://open.spotify.com/track/abc", SourceSpotify},
		{"https://music.youtube.com/watch?v=abc", SourceYTMusic},
		{"https://www.youtube.com/watch?v=abc", SourceYouTube},
		{"https://youtu.be/abc", SourceYouTube},
		{"https://stream.example/radio.mp3", SourceStream},
	}
	for _, tt := range tests {
		if got := sourceFromURI(tt.uri); got != tt.want {
			t.Errorf("sourceFromURI(%q) = %s, want %s", tt.uri, got, tt.want)
		}
	}
}

func TestPickRelated(t *testing.T) {
	a, b, c := mkTrack("a"), mkTrack("b"), mkTrack("c")

	tests := []struct {
		name       string
		candidates []*Track
		want       *Track
	}{
		{"no hits", nil, nil},
		{"single hit is the finished track itself", []*Track{a}, nil},
		{"two hits takes the second", []*Track{a, b}, b},
		{"many hits still takes the second", []*Track{a, b, c}, b},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickRelated(tt.candidates); got != tt.want {
				t.Errorf("pickRelated() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveEmptyQuery(t *testing.T) {
	r := &Resolver{cache: NewResolutionCache(), cacheTTL: time.Minute}
	res := r.Resolve(context.Background(), "   ", testRequester)
	if !res.Empty() {
		t.Fatalf("blank query resolved to %+v", res)
	}
}

func TestResolveURLPassthrough(t *testing.T) {
	r := &Resolver{cache: NewResolutionCache(), cacheTTL: time.Minute}

	uri := "https://stream.example/radio.mp3"
	res := r.Resolve(context.Background(), uri, testRequester)
	if len(res.Tracks) != 1 {
		t.Fatalf("tracks = %v, want exactly one passthrough", res.Tracks)
	}
	tr := res.Tracks[0]
	if tr.URI != uri {
		t.Fatalf("URI = %q, want the original URL", tr.URI)
	}
	if tr.Source != SourceStream {
		t.Fatalf("source = %s, want Stream", tr.Source)
	}
	if tr.Requester != testRequester {
		t.Fatalf("requester = %v, want stamped", tr.Requester)
	}
}

func TestResolveYouTubeURLCacheHit(t *testing.T) {
	r := &Resolver{cache: NewResolutionCache(), cacheTTL: time.Minute}

	url := "https://www.youtube.com/watch?v=cached123"
	r.cache.Put(url, "https://cdn.example/stream", time.Minute)

	res := r.Resolve(context.Background(), url, testRequester)
	if len(res.Tracks) != 1 {
		t.Fatalf("tracks = %v, want one", res.Tracks)
	}
	if res.Tracks[0].URI != "https://cdn.example/stream" {
		t.Fatalf("URI = %q, want the cached stream URL", res.Tracks[0].URI)
	}
	if res.Tracks[0].Source != SourceStream {
		t.Fatalf("source = %s, want Stream", res.Tracks[0].Source)
	}
}

// fallbackResolver wires fake backends and records which were consulted.
type fallbackResolver struct {
	r        *Resolver
	extracts []string
	yt       []string
	ytm      []string
}

func newFallbackResolver(extractOK bool, ytHits, ytmHits []*Track) *fallbackResolver {
	f := &fallbackResolver{}
	f.r = &Resolver{cache: NewResolutionCache(), cacheTTL: time.Minute}
	f.r.extractFn = func(_ context.Context, target string) (*ytdlpMetadata, bool) {
		f.extracts = append(f.extracts, target)
		if !extractOK {
			return nil, false
		}
		return &ytdlpMetadata{URL: "https://cdn.example/direct", Title: "Direct"}, true
	}
	f.r.ytSearchFn = func(_ context.Context, query string, _ snowflake.ID) []*Track {
		f.yt = append(f.yt, query)
		return ytHits
	}
	f.r.ytmSearchFn = func(_ context.Context, query string, _ snowflake.ID) []*Track {
		f.ytm = append(f.ytm, query)
		return ytmHits
	}
	return f
}

func TestResolveExtractorFailureFallsBackInOrder(t *testing.T) {
	hit := mkTrack("search hit")
	f := newFallbackResolver(false, []*Track{hit}, []*Track{mkTrack("wrong catalog")})

	res := f.r.Resolve(context.Background(), "some song", testRequester)

	if len(f.extracts) != 1 || f.extracts[0] != "ytsearch1:some song" {
		t.Fatalf("extractor consulted with %v, want the top-1 search identifier", f.extracts)
	}
	if len(f.yt) != 1 {
		t.Fatalf("YouTube search consulted %d times, want 1", len(f.yt))
	}
	if len(f.ytm) != 0 {
		t.Fatal("YouTube Music consulted although YouTube already had results")
	}
	if len(res.Tracks) != 1 || res.Tracks[0] != hit {
		t.Fatalf("resolved %v, want the YouTube search hit", res.Tracks)
	}
}

func TestResolveExtractorSuccessSkipsSearch(t *testing.T) {
	f := newFallbackResolver(true, []*Track{mkTrack("unused")}, nil)

	res := f.r.Resolve(context.Background(), "some song", testRequester)

	if len(f.yt) != 0 || len(f.ytm) != 0 {
		t.Fatalf("search consulted (yt=%d ytm=%d) despite a direct extraction", len(f.yt), len(f.ytm))
	}
	if len(res.Tracks) != 1 || res.Tracks[0].URI != "https://cdn.example/direct" {
		t.Fatalf("resolved %v, want the extracted stream", res.Tracks)
	}
	if res.Tracks[0].Source != SourceStream {
		t.Fatalf("source = %s, want Stream", res.Tracks[0].Source)
	}
}

func TestResolveLastResortIsYTMusic(t *testing.T) {
	hit := mkTrack("ytm hit")
	f := newFallbackResolver(false, nil, []*Track{hit})

	res := f.r.Resolve(context.Background(), "obscure song", testRequester)

	if len(f.yt) != 1 || len(f.ytm) != 1 {
		t.Fatalf("consultations yt=%d ytm=%d, want both once", len(f.yt), len(f.ytm))
	}
	if len(res.Tracks) != 1 || res.Tracks[0] != hit {
		t.Fatalf("resolved %v, want the YouTube Music hit", res.Tracks)
	}
}

func TestResolvePrefixDirectiveQueriesOneBackend(t *testing.T) {
	f := newFallbackResolver(false, []*Track{mkTrack("yt")}, []*Track{mkTrack("ytm")})

	res := f.r.Resolve(context.Background(), "ytmsearch:   some song ", testRequester)

	if len(f.extracts) != 0 || len(f.yt) != 0 {
		t.Fatalf("directive leaked to other backends (extract=%d yt=%d)", len(f.extracts), len(f.yt))
	}
	if len(f.ytm) != 1 || f.ytm[0] != "some song" {
		t.Fatalf("YouTube Music queried with %v, want the stripped text", f.ytm)
	}
	if len(res.Tracks) != 1 || res.Tracks[0].Title != "ytm" {
		t.Fatalf("resolved %v", res.Tracks)
	}
}

func TestResolveResultEmpty(t *testing.T) {
	tests := []struct {
		name string
		res  *ResolveResult
		want bool
	}{
		{"nil result", nil, true},
		{"zero value", &ResolveResult{}, true},
		{"empty playlist", &ResolveResult{Playlist: &Playlist{Name: "x"}}, true},
		{"has tracks", &ResolveResult{Tracks: []*Track{mkTrack("a")}}, false},
		{"has playlist tracks", &ResolveResult{Playlist: &Playlist{Tracks: []*Track{mkTrack("a")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestYouTubeLaneAbsorbsSearchError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A dead context fails the search before any request goes out; the lane
	// must swallow the error and contribute nothing.
	if got := suggestYouTube(ctx, "never gonna"); got != nil {
		t.Fatalf("failed search produced %v, want nil", got)
	}
}

func TestMergeSuggestionsDedupesAcrossLanes(t *testing.T) {
	ytm := []SearchResult{
		{URL: "https://music.youtube.com/watch?v=abc", Title: "[YTM] Song"},
		{URL: "https://music.youtube.com/watch?v=def", Title: "[YTM] Other"},
	}
	yt := []SearchResult{
		{URL: "https://www.youtube.com/watch?v=abc", Title: "[YT] Song"},
		{URL: "https://www.youtube.com/watch?v=xyz", Title: "[YT] Third"},
	}

	got := mergeSuggestions(ytm, yt)
	if len(got) != 3 {
		t.Fatalf("merged %d results, want 3: %v", len(got), got)
	}
	if got[0].Title != "[YTM] Song" || got[1].Title != "[YTM] Other" || got[2].Title != "[YT] Third" {
		t.Fatalf("merge order wrong: %v", got)
	}
}

func TestSearchPrefixFallbacks(t *testing.T) {
	old := GlobalConfig
	GlobalConfig = nil
	t.Cleanup(func() { GlobalConfig = old })

	if got := getYoutubePrefix(); got != "ytsearch:" {
		t.Errorf("getYoutubePrefix() without config = %q, want ytsearch:", got)
	}
	if got := getYTMusicPrefix(); got != "ytmsearch:" {
		t.Errorf("getYTMusicPrefix() without config = %q, want ytmsearch:", got)
	}
}
