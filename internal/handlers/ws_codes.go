// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes for the tournament stream.
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // client did not speak the tournament subprotocol
	InvalidAuthTokenError websocket.StatusCode = 3001 // session token missing, invalid or expired
	InvalidLobbyIDError   websocket.StatusCode = 3003 // lobby id in the URL is empty
	LobbyCancelledError   websocket.StatusCode = 3004 // lobby was cancelled on the ledger
)

// TournamentSubprotocol is the subprotocol clients must request.
const TournamentSubprotocol = "tournament"
