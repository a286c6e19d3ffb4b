package catalog

import (
	"path/filepath"
	"strings"
	"sync/atomic"
)

// SongExt is the only file extension picked up from the songs directory.
const SongExt = ".wav"

// Song is a playable file in the catalog. Artist, Title, Path and Format are
// fixed once loaded; the play counter is updated concurrently by streaming
// workers.
type Song struct {
	Artist string
	Title  string
	Path   string
	Format AudioFormat

	plays atomic.Int64
}

// SongInfo is a snapshot of a Song used in query results and cache entries.
type SongInfo struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Plays  int64  `json:"plays,omitempty"`
}

// FullName renders "Artist - Title", the name clients use to refer to a song.
func (s SongInfo) FullName() string {
	return s.Artist + " - " + s.Title
}

// FullName renders "Artist - Title".
func (s *Song) FullName() string {
	return s.Artist + " - " + s.Title
}

// Plays returns how many streams of this song have finished.
func (s *Song) Plays() int64 {
	return s.plays.Load()
}

// Info snapshots the song with its current play count.
func (s *Song) Info() SongInfo {
	return SongInfo{Artist: s.Artist, Title: s.Title, Plays: s.Plays()}
}

// matches reports whether any filter is a case-insensitive substring of the
// artist or title. Filters are expected to be lowercased already.
func (s *Song) matches(filters []string) bool {
	artist := strings.ToLower(s.Artist)
	title := strings.ToLower(s.Title)

	for _, f := range filters {
		if strings.Contains(artist, f) || strings.Contains(title, f) {
			return true
		}
	}

	return false
}

func songKey(artist, title string) string {
	return strings.ToLower(strings.TrimSpace(artist)) + "\x00" + strings.ToLower(strings.TrimSpace(title))
}

// parseFileName splits "Artist - Title.wav" into its parts.
func parseFileName(name string) (artist, title string, ok bool) {
	if !strings.EqualFold(filepath.Ext(name), SongExt) {
		return "", "", false
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))

	artist, title, ok = strings.Cut(base, " - ")
	if !ok {
		artist, title, ok = strings.Cut(base, "-")
	}

	artist = strings.TrimSpace(artist)
	title = strings.TrimSpace(title)
	if !ok || artist == "" || title == "" {
		return "", "", false
	}

	return artist, title, true
}

// splitCandidates yields every (artist, title) split of a full song name at a
// dash, so names like "Jay-Z - Song" resolve regardless of dash spacing.
func splitCandidates(fullName string) [][2]string {
	var out [][2]string

	for i := 0; i < len(fullName); i++ {
		if fullName[i] != '-' {
			continue
		}

		artist := strings.TrimSpace(fullName[:i])
		title := strings.TrimSpace(fullName[i+1:])
		if artist != "" && title != "" {
			out = append(out, [2]string{artist, title})
		}
	}

	return out
}
