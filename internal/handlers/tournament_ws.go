// internal/handlers/tournament_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/tourney/internal/auth"
	"github.com/jason-s-yu/tourney/internal/claim"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/lobby"
	"github.com/jason-s-yu/tourney/internal/middleware"
	"github.com/sirupsen/logrus"
)

// wsWriteTimeout bounds a single frame write.
const wsWriteTimeout = 10 * time.Second

// TournamentWSHandler streams a lobby to one client: claim eligibility for the
// caller's linked wallet, ledger events for the lobby and server-side
// transitions broadcast by the room manager.
func (s *Server) TournamentWSHandler(w http.ResponseWriter, r *http.Request) {
	id := ledger.ParseLobbyID(r.PathValue("id"))

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{TournamentSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != TournamentSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the tournament subprotocol")
		return
	}
	if id.IsZero() {
		c.Close(InvalidLobbyIDError, "missing lobby id")
		return
	}
	sess, err := sessionFromWS(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "authentication failed")
		return
	}

	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)
	log := s.Logger.WithFields(logrus.Fields{"lobby": id.String(), "session": sess.ID})

	// CloseRead handles control frames and cancels ctx when the client goes away.
	ctx, cancel := context.WithCancel(c.CloseRead(r.Context()))
	defer cancel()

	conn := s.Rooms.Join(id, sess.ID, cancel)
	defer s.Rooms.Leave(id, conn)

	changes, unsubscribe := s.Hub.Subscribe(sess.ID)
	defer unsubscribe()
	claims := s.Claims.Follow(ctx, id, sess.ID, changes)

	var events <-chan ledger.Event
	if s.Backend != nil {
		stream := ledger.Watch(ctx, s.Backend, s.Contract, ledger.EventFilter{Lobbies: []ledger.LobbyID{id}, Lookback: s.EventLookback}, s.EventPolicy, s.Logger)
		defer stream.Close()
		events = stream.Events()
	}

	err = s.pump(ctx, c, conn, claims, events)
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)

	switch {
	case errors.Is(err, errLobbyCancelled):
		c.Close(LobbyCancelledError, "lobby cancelled")
	case err == nil || errors.Is(err, context.Canceled):
		c.Close(websocket.StatusNormalClosure, "")
	default:
		log.WithError(err).Debug("tournament stream ended")
	}
}

var errLobbyCancelled = errors.New("lobby cancelled")

// pump writes every message for the connection until ctx ends or a write fails.
func (s *Server) pump(ctx context.Context, c *websocket.Conn, conn *lobby.Connection, claims <-chan claim.Result, events <-chan ledger.Event) error {
	for {
		select {
		case <-ctx.Done():
			// The room manager cancels right after queueing a final message.
			for {
				select {
				case msg := <-conn.OutChan:
					if err := writeRoom(ctx, c, msg); err != nil {
						return err
					}
				default:
					return ctx.Err()
				}
			}
		case msg := <-conn.OutChan:
			if err := writeRoom(ctx, c, msg); err != nil {
				return err
			}
		case res, ok := <-claims:
			if !ok {
				claims = nil
				continue
			}
			if err := writeWS(ctx, c, map[string]interface{}{"type": "claim", "result": res}); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := writeWS(ctx, c, map[string]interface{}{"type": "event", "event": ev}); err != nil {
				return err
			}
		}
	}
}

// sessionFromWS also accepts the session in a "token" query parameter, since
// browsers cannot set headers on a WebSocket handshake.
func sessionFromWS(r *http.Request) (auth.Session, error) {
	if tok := r.URL.Query().Get("token"); tok != "" && r.Header.Get("Authorization") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return auth.SessionFromRequest(r)
}

// writeRoom writes a room broadcast. Room messages outlive ctx so that a
// cancellation notice still reaches the client after the room cancels it.
func writeRoom(ctx context.Context, c *websocket.Conn, msg map[string]interface{}) error {
	if err := writeWS(context.WithoutCancel(ctx), c, msg); err != nil {
		return err
	}
	if msg["type"] == "lobby_cancelled" {
		return errLobbyCancelled
	}
	return nil
}

func writeWS(ctx context.Context, c *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, v)
}
