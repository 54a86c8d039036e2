package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/ranking"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

const maxRequestBodySize = 1 << 20 // 1 MB

type screeningRequest struct {
	Decision       string   `json:"decision" validate:"required,oneof=included excluded"`
	ExcludeReasons []string `json:"exclude_reasons" validate:"max=20,dive,required,max=200"`
}

type keytermsRequest struct {
	Include []string `json:"include" validate:"max=500,dive,required,max=200"`
	Exclude []string `json:"exclude" validate:"max=500,dive,required,max=200"`
}

type extractionRequest struct {
	Data     map[string]any `json:"data" validate:"required"`
	Finished bool           `json:"finished"`
}

// decodeBody reads, decodes and validates a JSON request body. It writes
// the error response itself and reports whether the handler may continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[jsonFieldName(fe)] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Fields: fields})
		return false
	}
	return true
}

// jsonFieldName converts a validator namespace such as
// "screeningRequest.ExcludeReasons[2]" to "exclude_reasons[2]".
func jsonFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	var b strings.Builder
	for i, r := range ns {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && ns[i-1] != '[' && ns[i-1] != '.' {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Server) screeningRef(w http.ResponseWriter, r *http.Request) (screening.ScreeningRef, bool) {
	studyID, ok := parseID(chi.URLParam(r, "studyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "studyID must be a positive integer")
		return screening.ScreeningRef{}, false
	}
	stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return screening.ScreeningRef{}, false
	}
	return screening.ScreeningRef{
		ReviewID: reviewIDFromContext(r.Context()),
		Stage:    stage,
		StudyID:  studyID,
		UserID:   userIDFromContext(r.Context()),
	}, true
}

func (s *Server) screeningInput(w http.ResponseWriter, r *http.Request) (domain.ScreeningInput, bool) {
	ref, ok := s.screeningRef(w, r)
	if !ok {
		return domain.ScreeningInput{}, false
	}
	var req screeningRequest
	if !s.decodeBody(w, r, &req) {
		return domain.ScreeningInput{}, false
	}
	return domain.ScreeningInput{
		ReviewID:       ref.ReviewID,
		Stage:          ref.Stage,
		StudyID:        ref.StudyID,
		UserID:         ref.UserID,
		Status:         domain.Decision(req.Decision),
		ExcludeReasons: req.ExcludeReasons,
	}, true
}

// recordScreening handles POST /studies/{studyID}/screenings/{stage}.
func (s *Server) recordScreening(w http.ResponseWriter, r *http.Request) {
	in, ok := s.screeningInput(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Screening.RecordScreening(r.Context(), in)
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, resultToResponse(res))
}

// updateScreening handles PUT /studies/{studyID}/screenings/{stage}.
func (s *Server) updateScreening(w http.ResponseWriter, r *http.Request) {
	in, ok := s.screeningInput(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Screening.UpdateScreening(r.Context(), in)
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

// deleteScreening handles DELETE /studies/{studyID}/screenings/{stage}.
func (s *Server) deleteScreening(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.screeningRef(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Screening.DeleteScreening(r.Context(), ref)
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

// saveDataExtraction handles PUT /studies/{studyID}/extraction.
func (s *Server) saveDataExtraction(w http.ResponseWriter, r *http.Request) {
	studyID, ok := parseID(chi.URLParam(r, "studyID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "studyID must be a positive integer")
		return
	}
	var req extractionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	study, err := s.deps.Screening.SaveDataExtraction(r.Context(), screening.DataExtractionInput{
		ReviewID: reviewIDFromContext(r.Context()),
		StudyID:  studyID,
		Data:     req.Data,
		Finished: req.Finished,
	})
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, studyToResponse(study))
}

// getQueue handles GET /queue?order=&tag=&page=&per_page=.
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	order, err := ranking.ParseOrder(q.Get("order"))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	page, ok := intParam(w, q.Get("page"), "page")
	if !ok {
		return
	}
	perPage, ok := intParam(w, q.Get("per_page"), "per_page")
	if !ok {
		return
	}

	res, err := s.deps.Queue.Get(r.Context(), ranking.QueueRequest{
		ReviewID: reviewIDFromContext(r.Context()),
		UserID:   userIDFromContext(r.Context()),
		Tag:      q.Get("tag"),
		Order:    order,
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		writeDomainError(w, s.requestLog(r), err)
		return
	}
	if res.StudyIDs == nil {
		res.StudyIDs = []int64{}
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func (s *Server) requestLog(r *http.Request) zerolog.Logger {
	logger := observability.WithRequestContext(r.Context(), s.logger)
	return observability.WithReviewContext(logger, reviewIDFromContext(r.Context()))
}
