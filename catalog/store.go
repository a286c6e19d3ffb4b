// Package catalog holds the users, songs and playlists the server works
// with. Everything lives in memory; users and playlists are persisted to
// plain text files in the data directory, songs are discovered from the
// songs directory at load time.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/songstream/cacher"
	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/safemap"
	"github.com/cyberinferno/songstream/session"
)

var (
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Cache key prefixes. Top keys also carry the play generation, so a top list
// computed before a play is never served after it.
const (
	searchPrefix = "search:"
	topPrefix    = "top:"
)

// Options configures a Store.
type Options struct {
	// SongsDir is scanned for "Artist - Title.wav" files by Load.
	SongsDir string
	// DataDir holds users.txt and playlists.txt.
	DataDir string
	// Cache stores search and top results. Nil disables caching.
	Cache cacher.Cacher[[]SongInfo]
	// CacheTTL bounds how long a cached result is served.
	CacheTTL time.Duration
	Logger   logger.Logger
}

// Store is the in-memory catalog. It is safe for concurrent use by the
// reactor and streaming workers.
type Store struct {
	opts  Options
	log   logger.Logger
	cache cacher.Cacher[[]SongInfo]
	// playGen changes on every play.
	playGen atomic.Uint64

	users     *safemap.SafeMap[string, session.Identity]
	songs     *safemap.SafeMap[string, *Song]
	playlists *safemap.SafeMap[playlistKey, *Playlist]
}

// NewStore creates an empty Store. Call Load to populate it from disk.
//
// Parameters:
//   - opts: Directories, query cache and logger
//
// Returns:
//   - A new, empty Store
func NewStore(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	cache := opts.Cache
	if cache == nil {
		cache = cacher.NewNopCacher[[]SongInfo]()
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}

	return &Store{
		opts:      opts,
		log:       log.With(logger.Field{Key: "component", Value: "catalog"}),
		cache:     cache,
		users:     safemap.NewSafeMap[string, session.Identity](),
		songs:     safemap.NewSafeMap[string, *Song](),
		playlists: safemap.NewSafeMap[playlistKey, *Playlist](),
	}
}

// RegisterUser adds a new user. Names are unique case-insensitively.
//
// Returns:
//   - ErrAlreadyExists if a user with the same name is registered
func (s *Store) RegisterUser(_ context.Context, id session.Identity) error {
	if id.Name == "" {
		return fmt.Errorf("%w: user name must not be empty", ErrInvalidOperation)
	}

	if _, loaded := s.users.LoadOrStore(id.Key(), id); loaded {
		return fmt.Errorf("%w: user %s", ErrAlreadyExists, id.Name)
	}

	return nil
}

// UserExists reports whether id's name is registered with exactly id's secret.
func (s *Store) UserExists(_ context.Context, id session.Identity) (bool, error) {
	stored, ok := s.users.Load(id.Key())
	if !ok {
		return false, nil
	}

	return stored.Secret == id.Secret, nil
}

// AddSong puts song in the catalog, replacing any song with the same artist
// and title.
func (s *Store) AddSong(song *Song) {
	s.songs.Store(songKey(song.Artist, song.Title), song)
}

// GetSongByName resolves "Artist - Title" case-insensitively. Spacing around
// the dash does not matter.
//
// Returns:
//   - ErrNotFound if no song matches
func (s *Store) GetSongByName(_ context.Context, fullName string) (*Song, error) {
	for _, c := range splitCandidates(fullName) {
		if song, ok := s.songs.Load(songKey(c[0], c[1])); ok {
			return song, nil
		}
	}

	return nil, fmt.Errorf("%w: song %s", ErrNotFound, strings.TrimSpace(fullName))
}

// AllSongs returns every song ordered by full name.
func (s *Store) AllSongs(ctx context.Context) ([]SongInfo, error) {
	return s.SearchSongs(ctx)
}

// SearchSongs returns the songs whose artist or title contains any of the
// filters, ordered by full name. No filters means every song.
func (s *Store) SearchSongs(ctx context.Context, filters ...string) ([]SongInfo, error) {
	lowered := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			lowered = append(lowered, f)
		}
	}

	key := searchPrefix + strings.Join(lowered, "|")

	return s.cache.GetOrFetch(ctx, key, s.opts.CacheTTL, func(context.Context) ([]SongInfo, error) {
		var out []SongInfo
		s.songs.Range(func(_ string, song *Song) bool {
			if len(lowered) == 0 || song.matches(lowered) {
				out = append(out, SongInfo{Artist: song.Artist, Title: song.Title})
			}
			return true
		})

		slices.SortFunc(out, func(a, b SongInfo) int {
			return cmp.Compare(strings.ToLower(a.FullName()), strings.ToLower(b.FullName()))
		})

		return out, nil
	})
}

// TopSongs returns the n most played songs, most played first. Ties are
// ordered by full name. A negative n means every song.
func (s *Store) TopSongs(ctx context.Context, n int) ([]SongInfo, error) {
	limit := "all"
	if n >= 0 {
		limit = strconv.Itoa(n)
	}
	key := topPrefix + strconv.FormatUint(s.playGen.Load(), 10) + ":" + limit

	return s.cache.GetOrFetch(ctx, key, s.opts.CacheTTL, func(context.Context) ([]SongInfo, error) {
		all := make([]SongInfo, 0, s.songs.Len())
		s.songs.Range(func(_ string, song *Song) bool {
			all = append(all, song.Info())
			return true
		})

		slices.SortFunc(all, func(a, b SongInfo) int {
			if c := cmp.Compare(b.Plays, a.Plays); c != 0 {
				return c
			}
			return cmp.Compare(strings.ToLower(a.FullName()), strings.ToLower(b.FullName()))
		})

		if n >= 0 && n < len(all) {
			all = all[:n]
		}

		return all, nil
	})
}

// IncrementPlays bumps the play count of song and drops cached top lists.
func (s *Store) IncrementPlays(ctx context.Context, song *Song) {
	song.plays.Add(1)
	s.playGen.Add(1)

	if _, err := s.cache.DeleteByPrefix(ctx, topPrefix); err != nil {
		s.log.Warn("failed to invalidate top songs cache", logger.Err(err))
	}
}

// CreatePlaylist creates an empty playlist owned by owner.
//
// Returns:
//   - session.ErrNotRegistered if owner is not a registered user
//   - ErrAlreadyExists if owner already has a playlist with that name
func (s *Store) CreatePlaylist(ctx context.Context, owner session.Identity, name string) (PlaylistInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, ":\n") {
		return PlaylistInfo{}, fmt.Errorf("%w: invalid playlist name %q", ErrInvalidOperation, name)
	}

	if ok, _ := s.UserExists(ctx, owner); !ok {
		return PlaylistInfo{}, fmt.Errorf("%w: %s", session.ErrNotRegistered, owner.Name)
	}

	p, loaded := s.playlists.LoadOrStore(keyOf(owner.Name, name), newPlaylist(name, owner.Name))
	if loaded {
		return PlaylistInfo{}, fmt.Errorf("%w: %s already has a playlist named %s", ErrAlreadyExists, owner.Name, name)
	}

	return p.Info(), nil
}

// AddSongToPlaylist appends a song to one of owner's playlists. Adding a
// song that is already present succeeds without changing the playlist.
//
// Returns:
//   - ErrNotFound if the song does not exist or nobody has such a playlist
//   - ErrInvalidOperation if the playlist exists only under other owners
func (s *Store) AddSongToPlaylist(ctx context.Context, owner session.Identity, playlist, songName string) error {
	song, err := s.GetSongByName(ctx, songName)
	if err != nil {
		return err
	}

	p, ok := s.playlists.Load(keyOf(owner.Name, playlist))
	if !ok {
		if _, err := s.findByName(playlist); err == nil {
			return fmt.Errorf("%w: playlist %s belongs to another user", ErrInvalidOperation, strings.TrimSpace(playlist))
		}
		return fmt.Errorf("%w: playlist %s", ErrNotFound, strings.TrimSpace(playlist))
	}

	p.add(song.FullName())
	return nil
}

// GetPlaylist returns a playlist by name. With an empty owner the playlist of
// that name whose owner sorts first is returned.
//
// Returns:
//   - ErrNotFound if no matching playlist exists
func (s *Store) GetPlaylist(_ context.Context, name, owner string) (PlaylistInfo, error) {
	if owner != "" {
		p, ok := s.playlists.Load(keyOf(owner, name))
		if !ok {
			return PlaylistInfo{}, fmt.Errorf("%w: %s has no playlist %s", ErrNotFound, owner, strings.TrimSpace(name))
		}
		return p.Info(), nil
	}

	p, err := s.findByName(name)
	if err != nil {
		return PlaylistInfo{}, err
	}

	return p.Info(), nil
}

func (s *Store) findByName(name string) (*Playlist, error) {
	want := strings.ToLower(strings.TrimSpace(name))

	var found *Playlist
	s.playlists.Range(func(k playlistKey, p *Playlist) bool {
		if k.name == want && (found == nil || k.owner < strings.ToLower(found.Owner)) {
			found = p
		}
		return true
	})

	if found == nil {
		return nil, fmt.Errorf("%w: playlist %s", ErrNotFound, strings.TrimSpace(name))
	}

	return found, nil
}

// Counts returns the number of users, songs and playlists.
func (s *Store) Counts() (users, songs, playlists int) {
	return s.users.Len(), s.songs.Len(), s.playlists.Len()
}
