// Package completion implements the per-user online logistic model that
// predicts whether a task scheduled at a slot will actually be completed.
// State round-trips through the model_states table so learning survives
// restarts.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pulseplan/pulse/store"
)

const (
	// modelName keys the model_states row.
	modelName = "completion_logistic"

	// fallbackProbability is returned before any training data exists.
	fallbackProbability = 0.7
)

// Config tunes the online updates.
type Config struct {
	// LearningRate scales each gradient step. Default 0.1.
	LearningRate float64
	// MinSamplesForUpdate gates PartialFit: smaller batches are ignored.
	// Default 5.
	MinSamplesForUpdate int
	// L2 shrinks weights each step to keep the online learner stable.
	L2 float64
}

func (c Config) withDefaults() Config {
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.MinSamplesForUpdate <= 0 {
		c.MinSamplesForUpdate = 5
	}
	if c.L2 < 0 {
		c.L2 = 0
	}
	return c
}

// Metrics summarizes one PartialFit batch.
type Metrics struct {
	Samples     int     `json:"samples"`
	LogLoss     float64 `json:"log_loss"`
	Accuracy    float64 `json:"accuracy"`
	SamplesSeen int     `json:"samples_seen"`
}

// state is the persisted JSON payload.
type state struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	SamplesSeen  int       `json:"samples_seen"`
}

// Model is a per-user logistic completion predictor. Not safe for concurrent
// use; the service serializes access per user.
type Model struct {
	cfg    Config
	userID string
	st     state
	loaded bool
}

// NewModel creates an untrained model for the user.
func NewModel(userID string, cfg Config) *Model {
	return &Model{cfg: cfg.withDefaults(), userID: userID}
}

// Loaded reports whether the model carries trained weights.
func (m *Model) Loaded() bool { return m.loaded }

// SamplesSeen returns the lifetime training sample count.
func (m *Model) SamplesSeen() int { return m.st.SamplesSeen }

// Predict returns one completion probability per row. Without trained
// weights every row gets the uniform fallback.
func (m *Model) Predict(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	if !m.loaded {
		for i := range out {
			out[i] = fallbackProbability
		}
		return out
	}
	for i, row := range rows {
		out[i] = m.predictRow(row)
	}
	return out
}

func (m *Model) predictRow(row []float64) float64 {
	n := len(m.st.Weights)
	if len(row) < n {
		n = len(row)
	}
	z := m.st.Bias + floats.Dot(m.st.Weights[:n], row[:n])
	return sigmoid(z)
}

// PartialFit applies one SGD pass over the labeled batch. Batches smaller
// than MinSamplesForUpdate are skipped and return nil metrics. featureNames
// realigns the stored weights if the column set ever changes.
func (m *Model) PartialFit(rows [][]float64, labels []float64, featureNames []string) (*Metrics, error) {
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("rows and labels length mismatch: %d vs %d", len(rows), len(labels))
	}
	if len(rows) < m.cfg.MinSamplesForUpdate {
		return nil, nil
	}

	m.align(featureNames)

	var logLoss float64
	correct := 0
	for i, row := range rows {
		p := m.predictRowTraining(row)
		y := labels[i]

		// Gradient of log loss for logistic regression.
		g := p - y
		for j := range m.st.Weights {
			if j >= len(row) {
				break
			}
			m.st.Weights[j] -= m.cfg.LearningRate * (g*row[j] + m.cfg.L2*m.st.Weights[j])
		}
		m.st.Bias -= m.cfg.LearningRate * g

		eps := 1e-12
		logLoss += -(y*math.Log(p+eps) + (1-y)*math.Log(1-p+eps))
		if (p >= 0.5) == (y >= 0.5) {
			correct++
		}
	}

	m.st.SamplesSeen += len(rows)
	m.loaded = true

	return &Metrics{
		Samples:     len(rows),
		LogLoss:     logLoss / float64(len(rows)),
		Accuracy:    float64(correct) / float64(len(rows)),
		SamplesSeen: m.st.SamplesSeen,
	}, nil
}

// predictRowTraining never falls back: the first batch trains from zero
// weights, which predict 0.5.
func (m *Model) predictRowTraining(row []float64) float64 {
	n := len(m.st.Weights)
	if len(row) < n {
		n = len(row)
	}
	z := m.st.Bias + floats.Dot(m.st.Weights[:n], row[:n])
	return sigmoid(z)
}

// align resizes the weight vector to the given column set, keeping the
// weights of columns that carried over by name.
func (m *Model) align(featureNames []string) {
	if len(featureNames) == 0 {
		return
	}
	if len(m.st.FeatureNames) == 0 {
		m.st.FeatureNames = append([]string(nil), featureNames...)
		m.st.Weights = make([]float64, len(featureNames))
		return
	}
	if equalNames(m.st.FeatureNames, featureNames) {
		return
	}
	old := make(map[string]float64, len(m.st.FeatureNames))
	for i, name := range m.st.FeatureNames {
		old[name] = m.st.Weights[i]
	}
	weights := make([]float64, len(featureNames))
	for i, name := range featureNames {
		weights[i] = old[name]
	}
	m.st.FeatureNames = append([]string(nil), featureNames...)
	m.st.Weights = weights
}

// Save persists the model payload. A model that never trained saves nothing.
func (m *Model) Save(ctx context.Context, st *store.Store) error {
	if !m.loaded {
		return nil
	}
	payload, err := json.Marshal(m.st)
	if err != nil {
		return fmt.Errorf("failed to encode completion model: %w", err)
	}
	_, err = st.UpsertModelState(ctx, &store.UpsertModelState{
		UserID:    m.userID,
		ModelName: modelName,
		Payload:   string(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to save completion model: %w", err)
	}
	return nil
}

// Load restores the model payload. Returns false when no saved state exists.
func (m *Model) Load(ctx context.Context, st *store.Store) (bool, error) {
	row, err := st.GetModelState(ctx, &store.FindModelState{UserID: m.userID, ModelName: modelName})
	if err != nil {
		return false, fmt.Errorf("failed to load completion model: %w", err)
	}
	if row == nil {
		return false, nil
	}
	var decoded state
	if err := json.Unmarshal([]byte(row.Payload), &decoded); err != nil {
		return false, fmt.Errorf("failed to decode completion model: %w", err)
	}
	m.st = decoded
	m.loaded = len(decoded.Weights) > 0
	return m.loaded, nil
}

func sigmoid(z float64) float64 {
	// Clamp to avoid overflow in Exp for extreme logits.
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
