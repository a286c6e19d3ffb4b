package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cyberinferno/songstream/logger"
	"github.com/cyberinferno/songstream/protocol"
	"github.com/cyberinferno/songstream/session"
	"github.com/cyberinferno/songstream/streamer"
	"github.com/cyberinferno/songstream/tcpserver"
)

// Command results recorded in metrics.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultInvalid = "invalid"
)

// HandleLine parses, validates and executes one request line. Every failure,
// including a panic inside a command, becomes the response text.
func (s *Server) HandleLine(ctx context.Context, conn *tcpserver.Conn, line string) (resp string) {
	cmd, ok := protocol.Parse(line)
	if !ok {
		s.metrics.RecordCommand("unknown", resultInvalid)
		return protocol.ErrInvalidCommand.Error()
	}

	defer func() {
		if r := recover(); r != nil {
			conn.Logger().Error("command panicked",
				logger.Field{Key: "verb", Value: cmd.Verb.String()},
				logger.Field{Key: "panic", Value: fmt.Sprint(r)},
			)
			s.metrics.RecordCommand(cmd.Verb.String(), resultError)
			resp = fmt.Sprintf("internal error while executing %s", cmd.Verb)
		}
	}()

	if err := protocol.Validate(cmd, conn.Authenticated()); err != nil {
		s.metrics.RecordCommand(cmd.Verb.String(), resultInvalid)
		return err.Error()
	}

	resp, err := s.execute(ctx, conn, cmd)
	if err != nil {
		s.metrics.RecordCommand(cmd.Verb.String(), resultError)
		conn.Logger().Debug("command failed",
			logger.Field{Key: "verb", Value: cmd.Verb.String()},
			logger.Err(err),
		)
		return err.Error()
	}

	s.metrics.RecordCommand(cmd.Verb.String(), resultOK)
	return resp
}

// HandleClose logs out whoever is attached to a connection that went away.
func (s *Server) HandleClose(ctx context.Context, conn *tcpserver.Conn) {
	id, ok := conn.Detach()
	if !ok {
		return
	}

	if err := s.logOut(ctx, id); err != nil {
		conn.Logger().Warn("failed to log out closed connection", logger.Err(err))
		return
	}

	conn.Logger().Info("session closed with connection", logger.Field{Key: "user", Value: id.Name})
}

func (s *Server) execute(ctx context.Context, conn *tcpserver.Conn, cmd protocol.Command) (string, error) {
	switch cmd.Verb {
	case protocol.VerbRegister:
		return s.register(ctx, cmd)
	case protocol.VerbLogin:
		return s.login(ctx, conn, cmd)
	case protocol.VerbDisconnect:
		return s.disconnect(ctx, conn)
	case protocol.VerbTerminate:
		conn.Logger().Info("terminate requested")
		s.reactor.Stop()
		return protocol.RespStopped, nil
	case protocol.VerbSearch:
		return s.search(ctx, cmd)
	case protocol.VerbTop:
		return s.top(ctx, cmd)
	case protocol.VerbCreatePlaylist:
		return s.createPlaylist(ctx, conn, cmd)
	case protocol.VerbAddSongTo:
		return s.addSongTo(ctx, conn, cmd)
	case protocol.VerbShowPlaylist:
		return s.showPlaylist(ctx, cmd)
	case protocol.VerbPlay:
		return s.play(ctx, conn, cmd)
	}

	return "", protocol.ErrInvalidCommand
}

func (s *Server) register(ctx context.Context, cmd protocol.Command) (string, error) {
	if err := s.store.RegisterUser(ctx, session.NewIdentity(cmd.Args[0], cmd.Args[1])); err != nil {
		return "", err
	}
	return protocol.RespRegistered, nil
}

func (s *Server) login(ctx context.Context, conn *tcpserver.Conn, cmd protocol.Command) (string, error) {
	id := session.NewIdentity(cmd.Args[0], cmd.Args[1])

	if err := s.registry.LogIn(ctx, id); err != nil {
		return "", err
	}

	if err := conn.Attach(id); err != nil {
		if _, logoutErr := s.registry.LogOut(ctx, id); logoutErr != nil {
			conn.Logger().Warn("failed to roll back login", logger.Err(logoutErr))
		}
		return "", err
	}

	port, _ := s.registry.Port(id)
	s.metrics.SetSessions(s.registry.Len())
	conn.Logger().Info("user logged in",
		logger.Field{Key: "user", Value: id.Name},
		logger.Field{Key: "port", Value: port},
	)

	return protocol.RespLoggedIn, nil
}

func (s *Server) disconnect(ctx context.Context, conn *tcpserver.Conn) (string, error) {
	id, ok := conn.Identity()
	if !ok {
		return "", protocol.ErrAuthRequired
	}

	if err := s.logOut(ctx, id); err != nil {
		return "", err
	}

	conn.Detach()
	conn.Logger().Info("user logged out", logger.Field{Key: "user", Value: id.Name})
	return protocol.RespLoggedOut, nil
}

// logOut ends id's session and cancels a stream still bound to its port.
// The registry keeps that port out of the pool until the worker frees it.
func (s *Server) logOut(ctx context.Context, id session.Identity) error {
	port, err := s.registry.LogOut(ctx, id)
	if err != nil {
		return err
	}

	if s.streams.Cancel(port) {
		s.log.Debug("cancelled stream of logged out user",
			logger.Field{Key: "user", Value: id.Name},
			logger.Field{Key: "port", Value: port},
		)
	}

	s.metrics.SetSessions(s.registry.Len())
	return nil
}

func (s *Server) search(ctx context.Context, cmd protocol.Command) (string, error) {
	songs, err := s.store.SearchSongs(ctx, cmd.Args...)
	if err != nil {
		return "", err
	}

	if len(songs) == 0 {
		return protocol.RespNoSongs, nil
	}

	names := make([]string, len(songs))
	for i, song := range songs {
		names[i] = song.FullName()
	}

	return protocol.NumberedList(protocol.RespFoundSongs, names), nil
}

func (s *Server) top(ctx context.Context, cmd protocol.Command) (string, error) {
	songs, err := s.store.TopSongs(ctx, cmd.Limit)
	if err != nil {
		return "", err
	}

	if len(songs) == 0 {
		return protocol.RespNoSongs, nil
	}

	lines := make([]string, len(songs))
	for i, song := range songs {
		lines[i] = song.FullName() + " (" + strconv.FormatInt(song.Plays, 10) + " plays)"
	}

	return protocol.NumberedList(protocol.RespTopSongs, lines), nil
}

func (s *Server) createPlaylist(ctx context.Context, conn *tcpserver.Conn, cmd protocol.Command) (string, error) {
	id, _ := conn.Identity()

	info, err := s.store.CreatePlaylist(ctx, id, cmd.Args[0])
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(protocol.RespCreatedFmt, info.Name), nil
}

func (s *Server) addSongTo(ctx context.Context, conn *tcpserver.Conn, cmd protocol.Command) (string, error) {
	id, _ := conn.Identity()

	if err := s.store.AddSongToPlaylist(ctx, id, cmd.Args[0], cmd.Args[1]); err != nil {
		return "", err
	}

	return protocol.RespSongAdded, nil
}

func (s *Server) showPlaylist(ctx context.Context, cmd protocol.Command) (string, error) {
	owner := ""
	if len(cmd.Args) > 1 {
		owner = cmd.Args[1]
	}

	info, err := s.store.GetPlaylist(ctx, cmd.Args[0], owner)
	if err != nil {
		return "", err
	}

	return protocol.NumberedList(fmt.Sprintf(protocol.RespPlaylistHead, info.Name, info.Owner), info.Songs), nil
}

func (s *Server) play(ctx context.Context, conn *tcpserver.Conn, cmd protocol.Command) (string, error) {
	id, _ := conn.Identity()

	song, err := s.store.GetSongByName(ctx, cmd.Args[0])
	if err != nil {
		return "", err
	}

	port, ok := s.registry.Port(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", session.ErrNotLoggedIn, id.Name)
	}

	streamID, err := s.streams.Start(ctx, streamer.Job{Port: port, Song: song})
	if err != nil {
		return "", err
	}

	conn.Logger().Info("stream started",
		logger.Field{Key: "user", Value: id.Name},
		logger.Field{Key: "song", Value: song.FullName()},
		logger.Field{Key: "port", Value: port},
		logger.Field{Key: "stream_id", Value: streamID},
	)

	return protocol.Play(song.Format.String(), port), nil
}

var _ tcpserver.Handler = (*Server)(nil)
