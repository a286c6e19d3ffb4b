package protocol

import (
	"strconv"
	"strings"
)

// Fixed success responses.
const (
	RespRegistered   = "registered successfully"
	RespLoggedIn     = "logged in successfully"
	RespLoggedOut    = "logged out successfully"
	RespStopped      = "server stopped successfully"
	RespSongAdded    = "song added successfully"
	RespNoSongs      = "no songs found"
	RespFoundSongs   = "found songs:"
	RespTopSongs     = "top songs:"
	RespPlayOK       = "ok"
	RespCreatedFmt   = "playlist %s created"
	RespPlaylistHead = "playlist %s by %s:"
)

// NumberedList renders header followed by one "N. item" line per item.
func NumberedList(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)

	for i, item := range items {
		b.WriteByte('\n')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(item)
	}

	return b.String()
}

// Play renders a successful play response: "ok <format fields> <port>".
func Play(format string, port int) string {
	return RespPlayOK + " " + format + " " + strconv.Itoa(port)
}
