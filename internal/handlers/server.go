// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/auth"
	"github.com/jason-s-yu/tourney/internal/claim"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/lobby"
	"github.com/jason-s-yu/tourney/internal/middleware"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/jason-s-yu/tourney/internal/tournament"
	"github.com/jason-s-yu/tourney/internal/wallet"
	"github.com/sirupsen/logrus"
)

// Server holds the collaborators the HTTP and WebSocket handlers use.
type Server struct {
	Logger       logrus.FieldLogger
	Linker       *wallet.Linker
	Hub          *wallet.Hub
	Orchestrator *tournament.Orchestrator
	Browser      *tournament.Browser
	Claims       *claim.Engine
	Rooms        *lobby.Manager

	// Backend and Contract feed the lobby event stream. EventLookback is how
	// many blocks below the head a new stream starts; zero reads from genesis.
	Backend       ledger.Backend
	Contract      common.Address
	EventPolicy   poll.Policy
	EventLookback uint64
}

// Routes registers every endpoint on a new mux, wrapped in request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /wallet/me", s.WalletMeHandler)
	mux.HandleFunc("POST /wallet/nonce", s.WalletNonceHandler)
	mux.HandleFunc("POST /wallet/link", s.WalletLinkHandler)
	mux.HandleFunc("DELETE /wallet/link", s.WalletUnlinkHandler)

	mux.HandleFunc("GET /tournament/lobbies", s.ListLobbiesHandler)
	mux.HandleFunc("GET /tournament/lobby/{id}", s.GetLobbyHandler)
	mux.HandleFunc("POST /tournament/prepare", s.PrepareHandler)
	mux.HandleFunc("POST /tournament/track", s.TrackHandler)
	mux.HandleFunc("POST /tournament/start", s.StartGameHandler)
	mux.HandleFunc("POST /tournament/declare", s.DeclareWinnerHandler)
	mux.HandleFunc("POST /tournament/cancel", s.CancelLobbyHandler)
	mux.HandleFunc("GET /tournament/claim/{id}", s.ClaimCheckHandler)
	mux.HandleFunc("GET /tournament/ws/{id}", s.TournamentWSHandler)

	return middleware.LogMiddleware(s.Logger)(mux)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error  string       `json:"error"`
	Kind   string       `json:"kind,omitempty"`
	TxHash *common.Hash `json:"txHash,omitempty"`
	// Lobby is the last observed state when a broadcast write was not
	// confirmed in time.
	Lobby *ledger.Lobby `json:"lobby,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status a client can act on.
func statusFor(k tournament.Kind) int {
	switch k {
	case tournament.KindAuth:
		return http.StatusUnauthorized
	case tournament.KindRejected:
		return http.StatusUnprocessableEntity
	case tournament.KindAmbiguous:
		return http.StatusAccepted
	case tournament.KindUnconfigured:
		return http.StatusServiceUnavailable
	case tournament.KindPrecondition:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// writeError classifies err and writes it with a player-facing message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeFailure(w, r, err, nil)
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, last *ledger.Lobby) {
	kind := tournament.KindOf(err)
	body := errorBody{Error: tournament.Message(err), Kind: kind.String(), Lobby: last}
	var te *tournament.Error
	if errors.As(err, &te) && te.TxHash != (common.Hash{}) {
		hash := te.TxHash
		body.TxHash = &hash
	}
	status := statusFor(kind)
	if errors.Is(err, tournament.ErrNotFound) || errors.Is(err, ledger.ErrLobbyNotFound) {
		status = http.StatusNotFound
	}
	entry := s.Logger.WithFields(logrus.Fields{"path": r.URL.Path, "kind": kind.String(), "error": err})
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request failed")
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// session authenticates the request, writing a 401 when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	sess, err := auth.SessionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid session", Kind: tournament.KindAuth.String()})
		return auth.Session{}, false
	}
	return sess, true
}

// serverSession additionally requires the game-server role.
func (s *Server) serverSession(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return sess, false
	}
	if !sess.Server {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "only the game server may do that", Kind: tournament.KindAuth.String()})
		return sess, false
	}
	return sess, true
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "bad request payload")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "bad request payload")
		return false
	}
	return true
}
