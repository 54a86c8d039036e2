package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Classifier fits and applies a relevance model. The model is opaque to the
// rest of the service and persisted as bytes between calls.
type Classifier interface {
	// Backend names the implementation stored alongside the model.
	Backend() string
	// Fit trains on feature vectors labeled included (true) or excluded.
	Fit(ctx context.Context, features [][]float64, labels []bool) ([]byte, error)
	// Predict returns one relevance score per feature vector, higher meaning
	// more likely to be included.
	Predict(ctx context.Context, model []byte, features [][]float64) ([]float64, error)
}

// LogisticConfig holds the built-in classifier settings.
type LogisticConfig struct {
	Epochs       int
	LearningRate float64
	// L2 is the weight decay applied every step.
	L2 float64
}

// Compile-time check that LogisticClassifier implements Classifier.
var _ Classifier = (*LogisticClassifier)(nil)

// LogisticClassifier is an L2-regularised logistic regression trained with
// full-batch gradient descent. Classes are weighted inversely to their
// frequency. Training is deterministic.
type LogisticClassifier struct {
	cfg LogisticConfig
}

// NewLogisticClassifier creates a LogisticClassifier, filling zero settings
// with defaults.
func NewLogisticClassifier(cfg LogisticConfig) *LogisticClassifier {
	if cfg.Epochs <= 0 {
		cfg.Epochs = 20
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.L2 < 0 {
		cfg.L2 = 0
	}
	return &LogisticClassifier{cfg: cfg}
}

// BackendLogistic identifies models produced by LogisticClassifier.
const BackendLogistic = "builtin-logistic"

// Backend implements Classifier.
func (l *LogisticClassifier) Backend() string {
	return BackendLogistic
}

type logisticModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Fit implements Classifier.
func (l *LogisticClassifier) Fit(ctx context.Context, features [][]float64, labels []bool) ([]byte, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return nil, domain.NewValidationError("features", fmt.Sprintf("%d vectors for %d labels", len(features), len(labels)))
	}
	dim := len(features[0])
	var pos float64
	for i, x := range features {
		if len(x) != dim {
			return nil, domain.NewValidationError("features", fmt.Sprintf("vector %d has size %d, want %d", i, len(x), dim))
		}
		if labels[i] {
			pos++
		}
	}
	n := float64(len(features))
	if pos == 0 || pos == n {
		return nil, domain.NewValidationError("labels", "both included and excluded examples are required")
	}
	wPos, wNeg := n/(2*pos), n/(2*(n-pos))

	m := logisticModel{Weights: make([]float64, dim)}
	grad := make([]float64, dim)
	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clear(grad)
		var gradBias float64
		for i, x := range features {
			y, w := 0.0, wNeg
			if labels[i] {
				y, w = 1, wPos
			}
			diff := w * (sigmoid(dot(m.Weights, x)+m.Bias) - y)
			for j, v := range x {
				grad[j] += diff * v
			}
			gradBias += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= l.cfg.LearningRate * (grad[j]/n + l.cfg.L2*m.Weights[j])
		}
		m.Bias -= l.cfg.LearningRate * gradBias / n
	}

	return json.Marshal(m)
}

// Predict implements Classifier.
func (l *LogisticClassifier) Predict(_ context.Context, model []byte, features [][]float64) ([]float64, error) {
	var m logisticModel
	if err := json.Unmarshal(model, &m); err != nil {
		return nil, fmt.Errorf("decode logistic model: %w", err)
	}
	scores := make([]float64, len(features))
	for i, x := range features {
		if len(x) != len(m.Weights) {
			return nil, domain.NewValidationError("features", fmt.Sprintf("vector %d has size %d, model expects %d", i, len(x), len(m.Weights)))
		}
		scores[i] = sigmoid(dot(m.Weights, x) + m.Bias)
	}
	return scores, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
