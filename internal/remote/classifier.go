package remote

import (
	"context"
	"fmt"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/ranking"
)

// BackendRemote identifies models produced by the remote classifier.
const BackendRemote = "remote"

// Compile-time check that Classifier implements ranking.Classifier.
var _ ranking.Classifier = (*Classifier)(nil)

type fitRequest struct {
	Features [][]float64 `json:"features"`
	Labels   []bool      `json:"labels"`
}

type fitResponse struct {
	Model []byte `json:"model"`
}

type predictRequest struct {
	Model    []byte      `json:"model"`
	Features [][]float64 `json:"features"`
}

type predictResponse struct {
	Scores []float64 `json:"scores"`
}

// Classifier delegates fitting and scoring to a remote service. Models
// travel base64-encoded and are stored by this service between calls.
type Classifier struct {
	client *Client
}

// NewClassifier creates a Classifier over client.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

// Backend implements ranking.Classifier.
func (c *Classifier) Backend() string {
	return BackendRemote
}

// Fit implements ranking.Classifier.
func (c *Classifier) Fit(ctx context.Context, features [][]float64, labels []bool) ([]byte, error) {
	var resp fitResponse
	if err := c.client.PostJSON(ctx, "fit", "/v1/fit", fitRequest{Features: features, Labels: labels}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Model) == 0 {
		return nil, domain.NewExternalServiceError(c.client.cfg.Service, "fit", fmt.Errorf("empty model"))
	}
	return resp.Model, nil
}

// Predict implements ranking.Classifier.
func (c *Classifier) Predict(ctx context.Context, model []byte, features [][]float64) ([]float64, error) {
	var resp predictResponse
	if err := c.client.PostJSON(ctx, "predict", "/v1/predict", predictRequest{Model: model, Features: features}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Scores) != len(features) {
		return nil, domain.NewExternalServiceError(c.client.cfg.Service, "predict",
			fmt.Errorf("%d scores for %d vectors", len(resp.Scores), len(features)))
	}
	return resp.Scores, nil
}
