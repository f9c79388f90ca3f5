package api

import (
	"net/http"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/types"
)

// VerifyHandler handles verification and raw feature extraction.
type VerifyHandler struct {
	base
}

// HandleVerify handles POST /verify.
func (h *VerifyHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	const op = "api.verify"

	var req types.EventsRequest
	if err := h.decodeEvents(w, r, op, schemaEnroll, &req, func() int { return len(req.Events) }); err != nil {
		h.fail(w, r, op, err)
		return
	}

	v, err := h.deps.Verify(r.Context(), req.Identity, req.Events)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleExtract handles POST /extract. Nothing is stored.
func (h *VerifyHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	const op = "api.extract"

	var req types.EventsRequest
	if err := h.decodeEvents(w, r, op, schemaExtract, &req, func() int { return len(req.Events) }); err != nil {
		h.fail(w, r, op, err)
		return
	}

	res := h.deps.Extract(r.Context(), req.Events)
	writeJSON(w, http.StatusOK, types.ExtractResponse{
		FeatureVector: res.Vector,
		PasteFlag:     res.PasteFlag,
		Meta:          model.MetaObject{SampleMeta: res.Meta},
	})
}
