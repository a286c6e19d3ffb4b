package catalog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/songstream/cacher"
	"github.com/cyberinferno/songstream/session"
)

func writeSong(t *testing.T, dir, name string, f AudioFormat, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	require.NoError(t, WriteWAV(file, f, data))
	return path
}

// newLoadedStore creates a store over a songs dir with three songs and an
// empty data dir.
func newLoadedStore(t *testing.T, cache cacher.Cacher[[]SongInfo]) (*Store, string) {
	t.Helper()

	root := t.TempDir()
	songsDir := filepath.Join(root, "songs")
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(songsDir, 0755))

	writeSong(t, songsDir, "Artist - Song.wav", CDQuality(), []byte{1, 2, 3, 4})
	writeSong(t, songsDir, "Jay-Z - Encore.wav", CDQuality(), []byte{5, 6, 7, 8})
	writeSong(t, songsDir, "Queen - Bohemian Rhapsody.wav", CDQuality(), []byte{9, 10, 11, 12})
	require.NoError(t, os.WriteFile(filepath.Join(songsDir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(songsDir, "Broken - File.wav"), []byte("nope"), 0644))

	s := NewStore(Options{SongsDir: songsDir, DataDir: dataDir, Cache: cache})
	require.NoError(t, s.Load(context.Background()))

	return s, dataDir
}

func TestProbeWAV(t *testing.T) {
	t.Run("little endian pcm", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteWAV(&buf, CDQuality(), make([]byte, 8)))

		f, err := ProbeWAV(&buf)
		require.NoError(t, err)
		assert.Equal(t, CDQuality(), f)
		assert.Equal(t, "PCM_SIGNED 44100.0 16 2 4 44100.0 false", f.String())
	})

	t.Run("big endian rifx", func(t *testing.T) {
		want := AudioFormat{Encoding: EncodingPCMSigned, SampleRate: 22050, Bits: 16, Channels: 1, FrameSize: 2, FrameRate: 22050, BigEndian: true}

		var buf bytes.Buffer
		require.NoError(t, WriteWAV(&buf, want, make([]byte, 4)))

		f, err := ProbeWAV(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, f)
	})

	t.Run("8 bit is unsigned", func(t *testing.T) {
		in := AudioFormat{Encoding: EncodingPCMUnsigned, SampleRate: 8000, Bits: 8, Channels: 1, FrameSize: 1, FrameRate: 8000}

		var buf bytes.Buffer
		require.NoError(t, WriteWAV(&buf, in, []byte{0x80}))

		f, err := ProbeWAV(&buf)
		require.NoError(t, err)
		assert.Equal(t, EncodingPCMUnsigned, f.Encoding)
	})

	t.Run("skips chunks before fmt", func(t *testing.T) {
		var wav bytes.Buffer
		require.NoError(t, WriteWAV(&wav, CDQuality(), nil))
		raw := wav.Bytes()

		var buf bytes.Buffer
		buf.Write(raw[:12])
		buf.WriteString("LIST")
		buf.Write([]byte{3, 0, 0, 0, 'a', 'b', 'c', 0})
		buf.Write(raw[12:])

		f, err := ProbeWAV(&buf)
		require.NoError(t, err)
		assert.Equal(t, CDQuality(), f)
	})

	t.Run("rejects non wave input", func(t *testing.T) {
		_, err := ProbeWAV(bytes.NewReader([]byte("ID3 definitely not a wave file")))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)

		_, err = ProbeWAV(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name, artist, title string
		ok                  bool
	}{
		{"Artist - Song.wav", "Artist", "Song", true},
		{"Jay-Z - Encore.WAV", "Jay-Z", "Encore", true},
		{"Artist-Song.wav", "Artist", "Song", true},
		{"NoDash.wav", "", "", false},
		{"Artist - Song.mp3", "", "", false},
		{" - Song.wav", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artist, title, ok := parseFileName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.artist, artist)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestStore_Load(t *testing.T) {
	s, _ := newLoadedStore(t, nil)

	_, songs, _ := s.Counts()
	assert.Equal(t, 3, songs, "non-wav and broken files are skipped")

	song, err := s.GetSongByName(context.Background(), "Artist - Song")
	require.NoError(t, err)
	assert.Equal(t, CDQuality(), song.Format)
	assert.FileExists(t, song.Path)
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Options{})

	require.NoError(t, s.RegisterUser(ctx, session.NewIdentity("ana", "pw")))
	assert.ErrorIs(t, s.RegisterUser(ctx, session.NewIdentity("ANA", "other")), ErrAlreadyExists)
	assert.ErrorIs(t, s.RegisterUser(ctx, session.NewIdentity("", "pw")), ErrInvalidOperation)

	ok, err := s.UserExists(ctx, session.NewIdentity("Ana", "pw"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.UserExists(ctx, session.NewIdentity("ana", "wrong"))
	assert.False(t, ok)

	ok, _ = s.UserExists(ctx, session.NewIdentity("bob", "pw"))
	assert.False(t, ok)
}

func TestStore_RegisterUserConcurrentlyAdmitsOne(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RegisterUser(ctx, session.NewIdentity("ana", "pw"))
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestStore_GetSongByName(t *testing.T) {
	s, _ := newLoadedStore(t, nil)
	ctx := context.Background()

	for _, name := range []string{"Artist - Song", "artist-song", "  ARTIST   -   song ", "Jay-Z - Encore", "jay-z-encore"} {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetSongByName(ctx, name)
			assert.NoError(t, err)
		})
	}

	_, err := s.GetSongByName(ctx, "Artist - Missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSongByName(ctx, "NoDash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SearchSongs(t *testing.T) {
	s, _ := newLoadedStore(t, nil)
	ctx := context.Background()

	all, err := s.AllSongs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Artist - Song", all[0].FullName())

	found, err := s.SearchSongs(ctx, "queen", "ENCORE")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Jay-Z - Encore", found[0].FullName())
	assert.Equal(t, "Queen - Bohemian Rhapsody", found[1].FullName())

	none, err := s.SearchSongs(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_TopSongs(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoadedStore(t, cacher.NewMemoryCacher[[]SongInfo](time.Minute, time.Minute))

	top, err := s.TopSongs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Artist - Song", top[0].FullName(), "ties ordered by name")

	queen, err := s.GetSongByName(ctx, "Queen - Bohemian Rhapsody")
	require.NoError(t, err)
	s.IncrementPlays(ctx, queen)
	s.IncrementPlays(ctx, queen)

	encore, err := s.GetSongByName(ctx, "Jay-Z - Encore")
	require.NoError(t, err)
	s.IncrementPlays(ctx, encore)

	top, err = s.TopSongs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Queen - Bohemian Rhapsody", top[0].FullName())
	assert.EqualValues(t, 2, top[0].Plays)
	assert.Equal(t, "Jay-Z - Encore", top[1].FullName())

	top, err = s.TopSongs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Queen - Bohemian Rhapsody", top[0].FullName(), "cached top lists are dropped on play")

	all, err := s.TopSongs(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	zero, err := s.TopSongs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, zero)
}

// afterFetchCacher runs hook once, after a fetch and before its result is
// stored by the wrapped cacher.
type afterFetchCacher struct {
	cacher.Cacher[[]SongInfo]
	hook func()
}

func (c *afterFetchCacher) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn cacher.FetchFunc[[]SongInfo]) ([]SongInfo, error) {
	return c.Cacher.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]SongInfo, error) {
		v, err := fetchFn(ctx)
		if hook := c.hook; hook != nil {
			c.hook = nil
			hook()
		}
		return v, err
	})
}

func TestStore_TopSongsPlayDuringFetch(t *testing.T) {
	ctx := context.Background()
	cache := &afterFetchCacher{Cacher: cacher.NewMemoryCacher[[]SongInfo](time.Minute, time.Minute)}
	s, _ := newLoadedStore(t, cache)

	encore, err := s.GetSongByName(ctx, "Jay-Z - Encore")
	require.NoError(t, err)
	cache.hook = func() { s.IncrementPlays(ctx, encore) }

	top, err := s.TopSongs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Artist - Song", top[0].FullName(), "computed before the play")

	top, err = s.TopSongs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Jay-Z - Encore", top[0].FullName(), "the stale list is not served after the play")
	assert.EqualValues(t, 1, top[0].Plays)
}

func TestStore_Playlists(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoadedStore(t, nil)

	ana := session.NewIdentity("ana", "pw")
	bob := session.NewIdentity("bob", "pw")
	require.NoError(t, s.RegisterUser(ctx, ana))
	require.NoError(t, s.RegisterUser(ctx, bob))

	t.Run("create", func(t *testing.T) {
		info, err := s.CreatePlaylist(ctx, ana, "road trip")
		require.NoError(t, err)
		assert.Equal(t, "road trip", info.Name)
		assert.Equal(t, "ana", info.Owner)

		_, err = s.CreatePlaylist(ctx, ana, "Road Trip")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = s.CreatePlaylist(ctx, session.NewIdentity("eve", "pw"), "mine")
		assert.ErrorIs(t, err, session.ErrNotRegistered)

		_, err = s.CreatePlaylist(ctx, ana, "bad:name")
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("add song", func(t *testing.T) {
		require.NoError(t, s.AddSongToPlaylist(ctx, ana, "road trip", "Queen - Bohemian Rhapsody"))
		require.NoError(t, s.AddSongToPlaylist(ctx, ana, "road trip", "artist-song"))
		require.NoError(t, s.AddSongToPlaylist(ctx, ana, "road trip", "queen - bohemian rhapsody"))

		info, err := s.GetPlaylist(ctx, "road trip", "ana")
		require.NoError(t, err)
		assert.Equal(t, []string{"Queen - Bohemian Rhapsody", "Artist - Song"}, info.Songs)
	})

	t.Run("add song errors", func(t *testing.T) {
		err := s.AddSongToPlaylist(ctx, bob, "road trip", "Artist - Song")
		assert.ErrorIs(t, err, ErrInvalidOperation)

		err = s.AddSongToPlaylist(ctx, bob, "nobody has this", "Artist - Song")
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.AddSongToPlaylist(ctx, ana, "road trip", "Missing - Song")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("show by name picks lowest owner", func(t *testing.T) {
		_, err := s.CreatePlaylist(ctx, bob, "Road Trip")
		require.NoError(t, err)

		info, err := s.GetPlaylist(ctx, "ROAD TRIP", "")
		require.NoError(t, err)
		assert.Equal(t, "ana", info.Owner)

		info, err = s.GetPlaylist(ctx, "road trip", "Bob")
		require.NoError(t, err)
		assert.Equal(t, "bob", info.Owner)
		assert.Empty(t, info.Songs)

		_, err = s.GetPlaylist(ctx, "road trip", "eve")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetPlaylist(ctx, "unknown", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, dataDir := newLoadedStore(t, nil)

	ana := session.NewIdentity("ana", "pw")
	require.NoError(t, s.RegisterUser(ctx, ana))
	require.NoError(t, s.RegisterUser(ctx, session.NewIdentity("bob", "secret")))
	_, err := s.CreatePlaylist(ctx, ana, "mix")
	require.NoError(t, err)
	require.NoError(t, s.AddSongToPlaylist(ctx, ana, "mix", "Jay-Z - Encore"))
	require.NoError(t, s.AddSongToPlaylist(ctx, ana, "mix", "Artist - Song"))

	require.NoError(t, s.Save(ctx))

	users, err := os.ReadFile(filepath.Join(dataDir, UsersFile))
	require.NoError(t, err)
	assert.Equal(t, "ana,pw\nbob,secret\n", string(users))

	playlists, err := os.ReadFile(filepath.Join(dataDir, PlaylistsFile))
	require.NoError(t, err)
	assert.Equal(t, "ana,pw:mix:Jay-Z - Encore,Artist - Song\n", string(playlists))

	reloaded := NewStore(Options{SongsDir: s.opts.SongsDir, DataDir: dataDir})
	require.NoError(t, reloaded.Load(ctx))

	ok, err := reloaded.UserExists(ctx, session.NewIdentity("bob", "secret"))
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := reloaded.GetPlaylist(ctx, "mix", "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"Jay-Z - Encore", "Artist - Song"}, info.Songs)
}

func TestStore_LoadToleratesBadLines(t *testing.T) {
	ctx := context.Background()
	s, dataDir := newLoadedStore(t, nil)

	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, UsersFile), []byte("ana,pw\r\ngarbage\n\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, PlaylistsFile),
		[]byte("ana,pw:mix:Artist - Song,Ghost - Track\nbroken line\n"), 0644))

	reloaded := NewStore(Options{SongsDir: s.opts.SongsDir, DataDir: dataDir})
	require.NoError(t, reloaded.Load(ctx))

	users, _, playlists := reloaded.Counts()
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, playlists)

	info, err := reloaded.GetPlaylist(ctx, "mix", "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"Artist - Song"}, info.Songs)
}
