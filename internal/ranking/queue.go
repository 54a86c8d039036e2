package ranking

import (
	"context"
	"fmt"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// QueueConfig bounds ranked queue pages.
type QueueConfig struct {
	DefaultPerPage int
	MaxPerPage     int
}

// QueueRequest selects one page of a reviewer's ranked citation queue.
type QueueRequest struct {
	ReviewID int64
	UserID   int64
	Tag      string
	Order    Order
	// Page is 1-based. Zero means the first page.
	Page    int
	PerPage int
}

// QueuePage is one page of ranked study IDs.
type QueuePage struct {
	StudyIDs []int64 `json:"study_ids"`
	Source   Source  `json:"source"`
	Page     int     `json:"page"`
	PerPage  int     `json:"per_page"`
	Total    int     `json:"total"`
}

// Queue serves ranked citation screening queues.
type Queue struct {
	stores repository.Stores
	ranker *Ranker
	cfg    QueueConfig
}

// NewQueue creates a Queue.
func NewQueue(stores repository.Stores, ranker *Ranker, cfg QueueConfig) *Queue {
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = 25
	}
	if cfg.MaxPerPage < cfg.DefaultPerPage {
		cfg.MaxPerPage = max(200, cfg.DefaultPerPage)
	}
	return &Queue{stores: stores, ranker: ranker, cfg: cfg}
}

// Get ranks the deduplicated, undecided studies the user has not screened
// yet and returns the requested page. Pages of a randomly ordered queue are
// not stable across calls.
func (q *Queue) Get(ctx context.Context, req QueueRequest) (*QueuePage, error) {
	if err := q.normalize(&req); err != nil {
		return nil, err
	}
	if _, err := q.stores.Reviews.Get(ctx, req.ReviewID); err != nil {
		return nil, err
	}

	ids, err := q.stores.Studies.ListQueueCandidates(ctx, repository.QueueFilter{
		ReviewID: req.ReviewID,
		UserID:   req.UserID,
		Tag:      req.Tag,
	})
	if err != nil {
		return nil, err
	}
	ranking, err := q.ranker.Rank(ctx, req.ReviewID, ids, req.Order)
	if err != nil {
		return nil, err
	}

	total := len(ranking.StudyIDs)
	start := total
	if req.Page-1 < total/req.PerPage+1 {
		start = min((req.Page-1)*req.PerPage, total)
	}
	end := start + min(req.PerPage, total-start)
	return &QueuePage{
		StudyIDs: append([]int64{}, ranking.StudyIDs[start:end]...),
		Source:   ranking.Source,
		Page:     req.Page,
		PerPage:  req.PerPage,
		Total:    total,
	}, nil
}

func (q *Queue) normalize(req *QueueRequest) error {
	switch {
	case req.ReviewID <= 0:
		return domain.NewValidationError("review_id", "must be positive")
	case req.UserID <= 0:
		return domain.NewValidationError("user_id", "must be positive")
	case req.Page < 0:
		return domain.NewValidationError("page", "must be positive")
	case req.PerPage < 0 || req.PerPage > q.cfg.MaxPerPage:
		return domain.NewValidationError("per_page", fmt.Sprintf("must be between 1 and %d", q.cfg.MaxPerPage))
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PerPage == 0 {
		req.PerPage = q.cfg.DefaultPerPage
	}
	order, err := ParseOrder(string(req.Order))
	if err != nil {
		return err
	}
	req.Order = order
	return nil
}
