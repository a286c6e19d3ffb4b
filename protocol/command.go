// Package protocol parses control-channel request lines into commands and
// decides which commands a connection may issue in its current auth state.
package protocol

import (
	"strconv"
	"strings"
)

// Verb identifies a control command.
type Verb int

const (
	VerbRegister Verb = iota + 1
	VerbLogin
	VerbDisconnect
	VerbTerminate
	VerbSearch
	VerbTop
	VerbCreatePlaylist
	VerbAddSongTo
	VerbShowPlaylist
	VerbPlay
)

// arity describes how a verb consumes the tokens after it.
type arity int

const (
	// exact: Args is exactly min tokens.
	exact arity = iota
	// atLeast: Args is min or more tokens.
	atLeast
	// between: Args is between min and max tokens.
	between
	// rest: Args is a single argument made of every remaining token.
	rest
	// firstAndRest: Args[0] is the first token, Args[1] the remaining tokens joined.
	firstAndRest
)

type verbSpec struct {
	verb     Verb
	name     string
	arity    arity
	min, max int
	auth     bool
}

var verbs = []verbSpec{
	{verb: VerbRegister, name: "register", arity: exact, min: 2},
	{verb: VerbLogin, name: "login", arity: exact, min: 2},
	{verb: VerbDisconnect, name: "disconnect", arity: exact, min: 0, auth: true},
	{verb: VerbTerminate, name: "terminate", arity: exact, min: 0},
	{verb: VerbSearch, name: "search", arity: atLeast, min: 1, auth: true},
	{verb: VerbTop, name: "top", arity: exact, min: 1, auth: true},
	{verb: VerbCreatePlaylist, name: "create-playlist", arity: rest, min: 1, auth: true},
	{verb: VerbAddSongTo, name: "add-song-to", arity: firstAndRest, min: 2, auth: true},
	{verb: VerbShowPlaylist, name: "show-playlist", arity: between, min: 1, max: 2, auth: true},
	{verb: VerbPlay, name: "play", arity: rest, min: 1, auth: true},
}

// aliases maps alternate spellings to canonical verb names.
var aliases = map[string]string{
	"logout": "disconnect",
}

var byName = func() map[string]verbSpec {
	m := make(map[string]verbSpec, len(verbs))
	for _, v := range verbs {
		m[v.name] = v
	}
	return m
}()

func (v Verb) spec() (verbSpec, bool) {
	for _, s := range verbs {
		if s.verb == v {
			return s, true
		}
	}
	return verbSpec{}, false
}

func (v Verb) String() string {
	if s, ok := v.spec(); ok {
		return s.name
	}
	return "unknown"
}

// RequiresAuth reports whether only authenticated connections may issue v.
func (v Verb) RequiresAuth() bool {
	s, _ := v.spec()
	return s.auth
}

// Command is a parsed request line.
type Command struct {
	Verb Verb
	Args []string
	// Limit is the parsed count of a top command; -1 means all.
	Limit int
}

// Parse turns a request line into a Command. Tokens are separated by
// whitespace and double quotes group a token that contains spaces.
//
// Parameters:
//   - line: One request line without its terminator
//
// Returns:
//   - The command and true, or false when the verb is unknown, the argument
//     count is wrong or a quote is left open
func Parse(line string) (Command, bool) {
	tokens, ok := tokenize(line)
	if !ok || len(tokens) == 0 {
		return Command{}, false
	}

	name := strings.ToLower(tokens[0])
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}

	spec, ok := byName[name]
	if !ok {
		return Command{}, false
	}

	args, ok := spec.shape(tokens[1:])
	if !ok {
		return Command{}, false
	}

	cmd := Command{Verb: spec.verb, Args: args, Limit: -1}

	switch spec.verb {
	case VerbSearch:
		if len(args) == 1 && strings.EqualFold(args[0], "all") {
			cmd.Args = nil
		}
	case VerbTop:
		if !strings.EqualFold(args[0], "all") {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return Command{}, false
			}
			cmd.Limit = n
		}
	}

	return cmd, true
}

func (s verbSpec) shape(tokens []string) ([]string, bool) {
	n := len(tokens)

	switch s.arity {
	case exact:
		return tokens, n == s.min
	case atLeast:
		return tokens, n >= s.min
	case between:
		return tokens, n >= s.min && n <= s.max
	case rest:
		if n < 1 {
			return nil, false
		}
		return []string{strings.Join(tokens, " ")}, true
	case firstAndRest:
		if n < 2 {
			return nil, false
		}
		return []string{tokens[0], strings.Join(tokens[1:], " ")}, true
	}

	return nil, false
}

// tokenize splits line on whitespace, keeping double-quoted runs together.
// It fails on an unterminated quote.
func tokenize(line string) ([]string, bool) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)

	flush := func() {
		if started {
			tokens = append(tokens, cur.String())
			cur.Reset()
			started = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\r' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}

	if inQuote {
		return nil, false
	}

	flush()
	return tokens, true
}
