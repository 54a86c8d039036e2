package remote

import (
	"context"

	"github.com/helixir/screening-workflow-service/internal/dedup"
)

// Compile-time check that Matcher implements dedup.Matcher.
var _ dedup.Matcher = (*Matcher)(nil)

type clusterRequest struct {
	ReviewID int64          `json:"review_id"`
	Records  []dedup.Record `json:"records"`
}

type clusterResponse struct {
	Clusters []dedup.Cluster `json:"clusters"`
}

// Matcher delegates clustering to a remote fuzzy-matching service:
//
//	POST /v1/cluster {"review_id": 1, "records": [...]}
//	-> {"clusters": [{"members": [{"id": 3, "score": 0.97}, ...]}]}
type Matcher struct {
	client *Client
}

// NewMatcher creates a Matcher over client.
func NewMatcher(client *Client) *Matcher {
	return &Matcher{client: client}
}

// Cluster implements dedup.Matcher.
func (m *Matcher) Cluster(ctx context.Context, reviewID int64, records []dedup.Record) ([]dedup.Cluster, error) {
	var resp clusterResponse
	if err := m.client.PostJSON(ctx, "cluster", "/v1/cluster", clusterRequest{ReviewID: reviewID, Records: records}, &resp); err != nil {
		return nil, err
	}
	return resp.Clusters, nil
}
