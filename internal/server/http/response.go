package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type reviewResponse struct {
	ID                            int64                 `json:"id"`
	Name                          string                `json:"name"`
	Status                        string                `json:"status"`
	NumCitationScreeningReviewers int                   `json:"num_citation_screening_reviewers"`
	NumFulltextScreeningReviewers int                   `json:"num_fulltext_screening_reviewers"`
	Counters                      domain.ReviewCounters `json:"counters"`
	CreatedAt                     time.Time             `json:"created_at"`
	UpdatedAt                     time.Time             `json:"updated_at"`
}

type studyResponse struct {
	ID                   int64    `json:"id"`
	ReviewID             int64    `json:"review_id"`
	Tags                 []string `json:"tags,omitempty"`
	DedupeStatus         string   `json:"dedupe_status"`
	CitationStatus       string   `json:"citation_status"`
	FulltextStatus       string   `json:"fulltext_status"`
	DataExtractionStatus string   `json:"data_extraction_status"`
}

type screeningResponse struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Status         string    `json:"status"`
	ExcludeReasons []string  `json:"exclude_reasons,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type screeningResultResponse struct {
	Stage          string                `json:"stage"`
	PreviousStatus string                `json:"previous_status"`
	Status         string                `json:"status"`
	Changed        bool                  `json:"changed"`
	Screening      *screeningResponse    `json:"screening,omitempty"`
	Study          studyResponse         `json:"study"`
	Counters       domain.ReviewCounters `json:"counters"`
}

type dedupeRunResponse struct {
	ID            int64     `json:"id"`
	ReviewID      int64     `json:"review_id"`
	RecordsAsOf   time.Time `json:"records_as_of"`
	NumRecords    int       `json:"num_records"`
	NumClusters   int       `json:"num_clusters"`
	NumDuplicates int       `json:"num_duplicates"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

type jobAcceptedResponse struct {
	JobID       string    `json:"job_id"`
	Job         string    `json:"job"`
	ReviewID    int64     `json:"review_id"`
	AvailableAt time.Time `json:"available_at"`
}

func reviewToResponse(r *domain.Review) reviewResponse {
	return reviewResponse{
		ID:                            r.ID,
		Name:                          r.Name,
		Status:                        string(r.Status),
		NumCitationScreeningReviewers: r.NumCitationScreeningReviewers,
		NumFulltextScreeningReviewers: r.NumFulltextScreeningReviewers,
		Counters:                      r.Counters,
		CreatedAt:                     r.CreatedAt,
		UpdatedAt:                     r.UpdatedAt,
	}
}

func studyToResponse(s *domain.Study) studyResponse {
	return studyResponse{
		ID:                   s.ID,
		ReviewID:             s.ReviewID,
		Tags:                 s.Tags,
		DedupeStatus:         string(s.DedupeStatus),
		CitationStatus:       string(s.CitationStatus),
		FulltextStatus:       string(s.FulltextStatus),
		DataExtractionStatus: string(s.DataExtractionStatus),
	}
}

func resultToResponse(res *screening.Result) screeningResultResponse {
	resp := screeningResultResponse{
		Stage:          string(res.Stage),
		PreviousStatus: string(res.Previous),
		Status:         string(res.Status),
		Changed:        res.Changed(),
		Study:          studyToResponse(res.Study),
		Counters:       res.Counters,
	}
	if sc := res.Screening; sc != nil {
		resp.Screening = &screeningResponse{
			ID:             sc.ID,
			UserID:         sc.UserID,
			Status:         string(sc.Status),
			ExcludeReasons: sc.ExcludeReasons,
			UpdatedAt:      sc.UpdatedAt,
		}
	}
	return resp
}

func dedupeRunToResponse(run *domain.DedupeRun) dedupeRunResponse {
	return dedupeRunResponse{
		ID:            run.ID,
		ReviewID:      run.ReviewID,
		RecordsAsOf:   run.RecordsAsOf,
		NumRecords:    run.NumRecords,
		NumClusters:   run.NumClusters,
		NumDuplicates: run.NumDuplicates,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}

func jobToResponse(ev *domain.OutboxEvent) jobAcceptedResponse {
	job, _ := ev.Job()
	var args domain.JobArgs
	_ = json.Unmarshal(ev.Payload, &args)
	return jobAcceptedResponse{
		JobID:       ev.EventID.String(),
		Job:         string(job),
		ReviewID:    args.ReviewID,
		AvailableAt: ev.AvailableAt,
	}
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var validationErr *domain.ValidationError
	var invariantErr *domain.InvariantViolation

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  validationErr.Error(),
			Fields: map[string]string{validationErr.Field: validationErr.Message},
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invariantErr):
		logger.Error().Err(err).Str("op", invariantErr.Op).Msg("invariant violation")
		writeError(w, http.StatusInternalServerError, domain.ErrInternalError.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		logger.Warn().Err(err).Msg("dependency unavailable")
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, domain.ErrInternalError.Error())
	}
}
