// internal/handlers/tournament.go
package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/tournament"
	"github.com/jason-s-yu/tourney/internal/wallet"
)

// prepareRequest is the body of POST /tournament/prepare. Stake is a decimal
// amount in the stake asset's display units.
type prepareRequest struct {
	Action   string           `json:"action"`
	LobbyID  string           `json:"lobbyId"`
	Stake    string           `json:"stake"`
	Token    common.Address   `json:"token"`
	Public   bool             `json:"public"`
	Enabled  bool             `json:"enabled"`
	Accounts []common.Address `json:"accounts"`
}

type trackRequest struct {
	Action  string         `json:"action"`
	LobbyID string         `json:"lobbyId"`
	TxHash  common.Hash    `json:"txHash"`
	Winner  common.Address `json:"winner"`
}

type serverActionRequest struct {
	LobbyID string         `json:"lobbyId"`
	Winner  common.Address `json:"winner"`
}

// ListLobbiesHandler returns the latest public lobby snapshot.
func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := s.Browser.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetLobbyHandler reads one lobby straight from the ledger.
func (s *Server) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id := ledger.ParseLobbyID(r.PathValue("id"))
	if id.IsZero() {
		badRequest(w, "missing lobby id")
		return
	}
	reader := s.Orchestrator.Reader()
	l, err := reader.FetchLobby(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reader.Assets(r.Context(), []*ledger.Lobby{l})
	writeJSON(w, http.StatusOK, l)
}

// linkedWallet returns the wallet bound to the caller, writing an auth error
// when there is none.
func (s *Server) linkedWallet(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return common.Address{}, false
	}
	id, err := s.Linker.Me(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return common.Address{}, false
	}
	if !id.Linked {
		s.writeError(w, r, wallet.ErrMissingSession)
		return common.Address{}, false
	}
	return id.Address, true
}

// PrepareHandler pre-checks and simulates a player action, returning the
// unsigned call for the player's wallet to sign and broadcast.
func (s *Server) PrepareHandler(w http.ResponseWriter, r *http.Request) {
	from, ok := s.linkedWallet(w, r)
	if !ok {
		return
	}
	var body prepareRequest
	if !decode(w, r, &body) {
		return
	}
	req := tournament.PrepareRequest{
		Action:   body.Action,
		ID:       ledger.ParseLobbyID(body.LobbyID),
		Token:    body.Token,
		Public:   body.Public,
		Enabled:  body.Enabled,
		Accounts: body.Accounts,
	}
	if req.ID.IsZero() {
		badRequest(w, "missing lobby id")
		return
	}
	if body.Action == tournament.ActionCreate {
		asset := s.Orchestrator.Reader().Asset(r.Context(), body.Token)
		stake, err := ledger.ParseUnits(body.Stake, asset.Decimals)
		if err != nil {
			badRequest(w, "invalid stake amount")
			return
		}
		req.Stake = stake
	}

	prepared, err := s.Orchestrator.Prepare(r.Context(), from, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

// TrackHandler waits for a client-broadcast transaction to be reflected on
// the ledger.
func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	from, ok := s.linkedWallet(w, r)
	if !ok {
		return
	}
	var body trackRequest
	if !decode(w, r, &body) {
		return
	}
	id := ledger.ParseLobbyID(body.LobbyID)
	if id.IsZero() || body.TxHash == (common.Hash{}) {
		badRequest(w, "lobbyId and txHash are required")
		return
	}
	out, err := s.Orchestrator.Track(r.Context(), body.Action, id, from, body.Winner, body.TxHash)
	s.writeOutcome(w, r, out, err)
}

// serverAction decodes the body of a game-server endpoint.
func (s *Server) serverAction(w http.ResponseWriter, r *http.Request) (serverActionRequest, ledger.LobbyID, bool) {
	var body serverActionRequest
	if _, ok := s.serverSession(w, r); !ok {
		return body, ledger.LobbyID{}, false
	}
	if !decode(w, r, &body) {
		return body, ledger.LobbyID{}, false
	}
	id := ledger.ParseLobbyID(body.LobbyID)
	if id.IsZero() {
		badRequest(w, "missing lobby id")
		return body, id, false
	}
	return body, id, true
}

// writeOutcome writes a write's result. Failures after a broadcast carry the
// last lobby state observed alongside the transaction hash.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out tournament.Outcome, err error) {
	if err != nil {
		s.writeFailure(w, r, err, out.Lobby)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// StartGameHandler moves a lobby to in-progress with the server key.
func (s *Server) StartGameHandler(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.serverAction(w, r)
	if !ok {
		return
	}
	out, err := s.Orchestrator.StartGame(r.Context(), id)
	s.writeOutcome(w, r, out, err)
}

// DeclareWinnerHandler records the winner with the server key.
func (s *Server) DeclareWinnerHandler(w http.ResponseWriter, r *http.Request) {
	body, id, ok := s.serverAction(w, r)
	if !ok {
		return
	}
	if body.Winner == (common.Address{}) {
		badRequest(w, "missing winner")
		return
	}
	out, err := s.Orchestrator.DeclareWinner(r.Context(), id, body.Winner)
	s.writeOutcome(w, r, out, err)
}

// CancelLobbyHandler cancels a lobby with the server key.
func (s *Server) CancelLobbyHandler(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.serverAction(w, r)
	if !ok {
		return
	}
	out, err := s.Orchestrator.CancelLobby(r.Context(), id)
	s.writeOutcome(w, r, out, err)
}

// ClaimCheckHandler evaluates claim eligibility once for the caller.
func (s *Server) ClaimCheckHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := ledger.ParseLobbyID(r.PathValue("id"))
	if id.IsZero() {
		badRequest(w, "missing lobby id")
		return
	}
	writeJSON(w, http.StatusOK, s.Claims.Check(r.Context(), id, sess.ID))
}
