package catalog

import (
	"strings"
	"sync"

	"github.com/cyberinferno/songstream/safeset"
)

// Playlist is a named, ordered list of songs owned by one user. A song
// appears at most once.
type Playlist struct {
	Name  string
	Owner string

	members *safeset.SafeSet[string]

	mu    sync.RWMutex
	songs []string
}

// PlaylistInfo is a snapshot of a Playlist.
type PlaylistInfo struct {
	Name  string
	Owner string
	Songs []string
}

func newPlaylist(name, owner string) *Playlist {
	return &Playlist{
		Name:    name,
		Owner:   owner,
		members: safeset.NewSafeSet[string](),
	}
}

// add appends song if it is not already present.
func (p *Playlist) add(song string) {
	if !p.members.TryAdd(strings.ToLower(song)) {
		return
	}

	p.mu.Lock()
	p.songs = append(p.songs, song)
	p.mu.Unlock()
}

// Info snapshots the playlist.
func (p *Playlist) Info() PlaylistInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	songs := make([]string, len(p.songs))
	copy(songs, p.songs)

	return PlaylistInfo{Name: p.Name, Owner: p.Owner, Songs: songs}
}

type playlistKey struct {
	owner string
	name  string
}

func keyOf(owner, name string) playlistKey {
	return playlistKey{owner: strings.ToLower(owner), name: strings.ToLower(strings.TrimSpace(name))}
}
