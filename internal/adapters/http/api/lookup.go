package api

import (
	"net/http"
	"strings"
)

// LookupHandler serves recorded verifications and identity profiles.
type LookupHandler struct {
	base
}

// HandleGetVerification handles GET /verifications/{id}.
func (h *LookupHandler) HandleGetVerification(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_verification"

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.fail(w, r, op, NewKind(op, ErrNotFound))
		return
	}
	v, err := h.deps.Verification(r.Context(), id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleGetProfile handles GET /profiles/{identity}.
func (h *LookupHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_profile"

	identity := strings.TrimSpace(r.PathValue("identity"))
	if identity == "" {
		h.fail(w, r, op, NewKind(op, ErrNotFound))
		return
	}
	p, err := h.deps.Profile(r.Context(), identity)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
