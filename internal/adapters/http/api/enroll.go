package api

import (
	"errors"
	"net/http"

	service "github.com/okian/keyguard/internal/app"
	"github.com/okian/keyguard/internal/domain/types"
)

// EnrollHandler handles enrollment requests.
type EnrollHandler struct {
	base
}

// HandleAddSample handles POST /enroll.
func (h *EnrollHandler) HandleAddSample(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll"

	var req types.EventsRequest
	if err := h.decodeEvents(w, r, op, schemaEnroll, &req, func() int { return len(req.Events) }); err != nil {
		h.fail(w, r, op, err)
		return
	}

	res, err := h.deps.AddSample(r.Context(), req.Identity, req.Events)
	var insufficient *service.InsufficientEnrollmentError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusUnprocessableEntity, types.InsufficientResponse{
			Code:         "insufficient_sample",
			Message:      insufficient.Error(),
			Chars:        insufficient.Chars,
			KeyEvents:    insufficient.KeyEvents,
			MinChars:     insufficient.MinChars,
			MinKeyEvents: insufficient.MinKeyEvents,
		})
		return
	}
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.EnrollResponse{
		Status:       "sample_stored",
		SampleID:     res.SampleID,
		SamplesCount: res.SamplesCount,
		Meta:         res.Meta,
	})
}

// HandleFinish handles POST /enroll/finish.
func (h *EnrollHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll_finish"

	var req types.FinishRequest
	if err := h.decodeEvents(w, r, op, schemaFinish, &req, func() int { return 0 }); err != nil {
		h.fail(w, r, op, err)
		return
	}

	res, err := h.deps.FinishEnrollment(r.Context(), req.Identity)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FinishResponse{
		Verdict:  res.Verdict,
		Template: types.NewTemplateSummary(res.Template),
	})
}
