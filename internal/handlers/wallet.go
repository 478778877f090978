// internal/handlers/wallet.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/tourney/internal/wallet"
)

type nonceRequest struct {
	Address string `json:"address"`
}

type linkResponse struct {
	Address string `json:"address"`
	Linked  bool   `json:"linked"`
}

// WalletMeHandler returns the wallet bound to the caller's session.
func (s *Server) WalletMeHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, err := s.Linker.Me(r.Context(), sess.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := linkResponse{Linked: id.Linked}
	if id.Linked {
		resp.Address = id.Address.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

// WalletNonceHandler issues a link challenge. When the body names the
// address already bound to the session, no nonce is issued.
func (s *Server) WalletNonceHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req nonceRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	ch, err := s.Linker.Challenge(r.Context(), sess.ID, req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// WalletLinkHandler verifies a signed challenge and binds the wallet.
func (s *Server) WalletLinkHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req wallet.LinkRequest
	if !decode(w, r, &req) {
		return
	}
	addr, err := s.Linker.Link(r.Context(), sess.ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{Address: addr.Hex(), Linked: true})
}

// WalletUnlinkHandler removes the session's binding.
func (s *Server) WalletUnlinkHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.Linker.Unlink(r.Context(), sess.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{Linked: false})
}
