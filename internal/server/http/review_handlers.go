package httpserver

import (
	"context"
	"net/http"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// getReview handles GET /reviews/{reviewID}.
func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	review, err := s.deps.Tx.Stores().Reviews.Get(r.Context(), reviewIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, reviewToResponse(review))
}

// getLatestDedupeRun handles GET /reviews/{reviewID}/dedupe/latest.
func (s *Server) getLatestDedupeRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID := reviewIDFromContext(ctx)
	stores := s.deps.Tx.Stores()

	if _, err := stores.Reviews.Get(ctx, reviewID); err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	run, err := stores.DedupeRuns.Latest(ctx, reviewID)
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, dedupeRunToResponse(run))
}

// triggerDedupe handles POST /reviews/{reviewID}/dedupe.
func (s *Server) triggerDedupe(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Jobs.TriggerDedupe(r.Context(), reviewIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToResponse(ev))
}

// triggerTraining handles POST /reviews/{reviewID}/training.
func (s *Server) triggerTraining(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Jobs.TriggerTraining(r.Context(), reviewIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToResponse(ev))
}

// replaceKeyterms handles PUT /reviews/{reviewID}/keyterms. The body
// replaces the review's manual keyterms; suggested keyterms are untouched.
func (s *Server) replaceKeyterms(w http.ResponseWriter, r *http.Request) {
	var req keytermsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	reviewID := reviewIDFromContext(r.Context())
	set := domain.KeytermSet{Include: req.Include, Exclude: req.Exclude}

	var stored domain.KeytermSet
	err := s.deps.Tx.InTx(r.Context(), func(ctx context.Context, st repository.Stores) error {
		if _, err := st.Reviews.Get(ctx, reviewID); err != nil {
			return err
		}
		if err := st.Keyterms.Replace(ctx, reviewID, domain.KeytermSourceManual, set); err != nil {
			return err
		}
		var err error
		stored, err = st.Keyterms.List(ctx, reviewID, domain.KeytermSourceManual)
		return err
	})
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	if stored.Include == nil {
		stored.Include = []string{}
	}
	if stored.Exclude == nil {
		stored.Exclude = []string{}
	}
	writeJSON(w, http.StatusOK, stored)
}

// reconcileCounters handles POST /reviews/{reviewID}/counters/reconcile.
func (s *Server) reconcileCounters(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reconciler.Reconcile(r.Context(), reviewIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
