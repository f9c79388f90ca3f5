package api

import (
	"net/http"

	"github.com/okian/keyguard/internal/domain/types"
)

// AnswersHandler handles asynchronous answer submissions.
type AnswersHandler struct {
	base
}

// HandlePostAnswer handles POST /answers.
// Accepted submissions return 202; a repeat of an accepted one returns 200
// with duplicate set. A full queue returns 429.
func (h *AnswersHandler) HandlePostAnswer(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_answer"

	var req types.AnswerRequest
	if err := h.decodeEvents(w, r, op, schemaAnswer, &req, func() int { return len(req.Events) }); err != nil {
		h.fail(w, r, op, err)
		return
	}

	res, err := h.deps.SubmitAnswer(r.Context(), req.Submission())
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusOK, types.AnswerResponse{Status: "duplicate", SubmissionID: res.SubmissionID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, types.AnswerResponse{Status: "accepted", SubmissionID: res.SubmissionID})
}
