package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/songstream/session"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line  string
		verb  Verb
		args  []string
		limit int
	}{
		{"register ana pw", VerbRegister, []string{"ana", "pw"}, -1},
		{"LOGIN ana pw", VerbLogin, []string{"ana", "pw"}, -1},
		{"disconnect", VerbDisconnect, []string{}, -1},
		{"logout", VerbDisconnect, []string{}, -1},
		{"terminate", VerbTerminate, []string{}, -1},
		{"search all", VerbSearch, nil, -1},
		{"search queen encore", VerbSearch, []string{"queen", "encore"}, -1},
		{`search "bohemian rhapsody"`, VerbSearch, []string{"bohemian rhapsody"}, -1},
		{"top 3", VerbTop, []string{"3"}, 3},
		{"top ALL", VerbTop, []string{"ALL"}, -1},
		{"create-playlist road trip", VerbCreatePlaylist, []string{"road trip"}, -1},
		{`add-song-to mix Queen - Bohemian Rhapsody`, VerbAddSongTo, []string{"mix", "Queen - Bohemian Rhapsody"}, -1},
		{`add-song-to "road trip" "X - Song"`, VerbAddSongTo, []string{"road trip", "X - Song"}, -1},
		{"show-playlist mix", VerbShowPlaylist, []string{"mix"}, -1},
		{"show-playlist mix ana", VerbShowPlaylist, []string{"mix", "ana"}, -1},
		{`play "X - Song"`, VerbPlay, []string{"X - Song"}, -1},
		{"play   X  -   Song  ", VerbPlay, []string{"X - Song"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, ok := Parse(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.verb, cmd.Verb)
			if len(tt.args) == 0 {
				assert.Empty(t, cmd.Args)
			} else {
				assert.Equal(t, tt.args, cmd.Args)
			}
			assert.Equal(t, tt.limit, cmd.Limit)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"dance",
		"login ana",
		"login ana pw extra",
		"register",
		"disconnect now",
		"search",
		"top",
		"top -1",
		"top many",
		"top 1 2",
		"create-playlist",
		"add-song-to mix",
		"show-playlist",
		"show-playlist a b c",
		"play",
		`play "X - Song`,
	} {
		t.Run(line, func(t *testing.T) {
			_, ok := Parse(line)
			assert.False(t, ok)
		})
	}
}

func TestVerb(t *testing.T) {
	assert.Equal(t, "add-song-to", VerbAddSongTo.String())
	assert.Equal(t, "unknown", Verb(0).String())

	for _, v := range []Verb{VerbLogin, VerbRegister, VerbTerminate} {
		assert.False(t, v.RequiresAuth(), v.String())
	}
	for _, v := range []Verb{VerbDisconnect, VerbSearch, VerbTop, VerbCreatePlaylist, VerbAddSongTo, VerbShowPlaylist, VerbPlay} {
		assert.True(t, v.RequiresAuth(), v.String())
	}
}

func TestValidate(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		for _, line := range []string{"search all", "play X - Song", "top 1", "disconnect", "show-playlist mix"} {
			cmd, ok := Parse(line)
			require.True(t, ok)

			err := Validate(cmd, false)
			assert.ErrorIs(t, err, ErrAuthRequired, line)
			assert.ErrorIs(t, err, session.ErrNotLoggedIn, line)
		}

		for _, line := range []string{"login ana pw", "register ana pw", "terminate"} {
			cmd, _ := Parse(line)
			assert.NoError(t, Validate(cmd, false), line)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		for _, line := range []string{"login ana pw", "register bob pw"} {
			cmd, _ := Parse(line)

			err := Validate(cmd, true)
			assert.ErrorIs(t, err, ErrAlreadyAuthenticated, line)
			assert.True(t, errors.Is(err, session.ErrAlreadyLoggedIn), line)
		}

		for _, line := range []string{"search all", "play X - Song", "terminate", "logout"} {
			cmd, _ := Parse(line)
			assert.NoError(t, Validate(cmd, true), line)
		}
	})

	assert.Equal(t, "you have not logged in", ErrAuthRequired.Error())
}

func TestResponses(t *testing.T) {
	assert.Equal(t, "found songs:\n1. A - B\n2. C - D", NumberedList(RespFoundSongs, []string{"A - B", "C - D"}))
	assert.Equal(t, "top songs:", NumberedList(RespTopSongs, nil))
	assert.Equal(t, "ok PCM_SIGNED 44100.0 16 2 4 44100.0 false 7000", Play("PCM_SIGNED 44100.0 16 2 4 44100.0 false", 7000))
}
