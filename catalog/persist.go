package catalog

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/session"
)

// File names inside the data directory.
const (
	UsersFile     = "users.txt"
	PlaylistsFile = "playlists.txt"
)

// Load scans the songs directory and reads users and playlists from the data
// directory. Missing data files are treated as empty. Songs whose name or
// header cannot be parsed are skipped with a warning, as are playlist
// entries naming unknown songs.
func (s *Store) Load(ctx context.Context) error {
	if err := s.loadSongs(); err != nil {
		return err
	}

	if err := s.loadUsers(); err != nil {
		return err
	}

	if err := s.loadPlaylists(ctx); err != nil {
		return err
	}

	users, songs, playlists := s.Counts()
	s.log.Info("catalog loaded",
		logger.Field{Key: "users", Value: users},
		logger.Field{Key: "songs", Value: songs},
		logger.Field{Key: "playlists", Value: playlists},
	)

	return nil
}

func (s *Store) loadSongs() error {
	if s.opts.SongsDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.opts.SongsDir)
	if err != nil {
		return fmt.Errorf("failed to read songs directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		artist, title, ok := parseFileName(e.Name())
		if !ok {
			s.log.Debug("skipping file without song name", logger.Field{Key: "file", Value: e.Name()})
			continue
		}

		path := filepath.Join(s.opts.SongsDir, e.Name())
		format, err := ProbeFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable song", logger.Field{Key: "file", Value: e.Name()}, logger.Err(err))
			continue
		}

		s.AddSong(&Song{Artist: artist, Title: title, Path: path, Format: format})
	}

	return nil
}

func (s *Store) loadUsers() error {
	return s.readLines(UsersFile, func(n int, line string) {
		name, secret, ok := strings.Cut(line, ",")
		if !ok || strings.TrimSpace(name) == "" {
			s.log.Warn("skipping malformed user line", logger.Field{Key: "line", Value: n})
			return
		}

		s.users.Store(session.NewIdentity(name, secret).Key(), session.NewIdentity(name, secret))
	})
}

// loadPlaylists reads lines of the form "owner,secret:playlist:song1,song2".
func (s *Store) loadPlaylists(ctx context.Context) error {
	return s.readLines(PlaylistsFile, func(n int, line string) {
		owner, rest, ok := strings.Cut(line, ":")
		name, songs, ok2 := strings.Cut(rest, ":")
		if !ok || !ok2 || strings.TrimSpace(name) == "" {
			s.log.Warn("skipping malformed playlist line", logger.Field{Key: "line", Value: n})
			return
		}

		ownerName, _, _ := strings.Cut(owner, ",")
		ownerName = strings.TrimSpace(ownerName)
		if ownerName == "" {
			s.log.Warn("skipping playlist without owner", logger.Field{Key: "line", Value: n})
			return
		}

		p, _ := s.playlists.LoadOrStore(keyOf(ownerName, name), newPlaylist(strings.TrimSpace(name), ownerName))

		if songs == "" {
			return
		}

		for _, songName := range strings.Split(songs, ",") {
			song, err := s.GetSongByName(ctx, songName)
			if err != nil {
				s.log.Warn("dropping unknown song from playlist",
					logger.Field{Key: "playlist", Value: p.Name},
					logger.Field{Key: "song", Value: strings.TrimSpace(songName)},
				)
				continue
			}
			p.add(song.FullName())
		}
	})
}

func (s *Store) readLines(name string, fn func(n int, line string)) error {
	if s.opts.DataDir == "" {
		return nil
	}

	f, err := os.Open(filepath.Join(s.opts.DataDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fn(n, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	return nil
}

// Save writes users and playlists to the data directory, creating it if
// needed. Each file is written to a temporary name and renamed into place.
func (s *Store) Save(_ context.Context) error {
	if s.opts.DataDir == "" {
		return nil
	}

	if err := os.MkdirAll(s.opts.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	users := s.users.Values()
	slices.SortFunc(users, func(a, b session.Identity) int { return cmp.Compare(a.Key(), b.Key()) })

	userLines := make([]string, 0, len(users))
	for _, u := range users {
		userLines = append(userLines, u.Name+","+u.Secret)
	}

	if err := writeLines(filepath.Join(s.opts.DataDir, UsersFile), userLines); err != nil {
		return err
	}

	playlists := s.playlists.Values()
	slices.SortFunc(playlists, func(a, b *Playlist) int {
		if c := cmp.Compare(strings.ToLower(a.Owner), strings.ToLower(b.Owner)); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	playlistLines := make([]string, 0, len(playlists))
	for _, p := range playlists {
		info := p.Info()
		owner, _ := s.users.Load(session.NewIdentity(info.Owner, "").Key())
		playlistLines = append(playlistLines,
			info.Owner+","+owner.Secret+":"+info.Name+":"+strings.Join(info.Songs, ","))
	}

	return writeLines(filepath.Join(s.opts.DataDir, PlaylistsFile), playlistLines)
}

func writeLines(path string, lines []string) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}

	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
