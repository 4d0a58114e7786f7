package completion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "demo",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "pulse_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	return store.New(driver, p)
}

func TestPredictFallbackWithoutTraining(t *testing.T) {
	m := NewModel("u1", Config{})

	probs := m.Predict([][]float64{{1, 0}, {0, 1}, {0.5, 0.5}})
	require.Len(t, probs, 3)
	for _, p := range probs {
		assert.Equal(t, 0.7, p, "untrained model returns the uniform fallback")
	}
	assert.False(t, m.Loaded())
}

func TestPartialFitGatesSmallBatches(t *testing.T) {
	m := NewModel("u1", Config{MinSamplesForUpdate: 5})

	metrics, err := m.PartialFit([][]float64{{1}, {0}}, []float64{1, 0}, []string{"f"})
	require.NoError(t, err)
	assert.Nil(t, metrics, "batches under the minimum are skipped")
	assert.False(t, m.Loaded())
}

func TestPartialFitLearnsSeparableData(t *testing.T) {
	m := NewModel("u1", Config{LearningRate: 0.5, MinSamplesForUpdate: 5})
	names := []string{"signal", "noise"}

	// Completion tracks the first feature exactly.
	var rows [][]float64
	var labels []float64
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			rows = append(rows, []float64{1, 0.3})
			labels = append(labels, 1)
		} else {
			rows = append(rows, []float64{0, 0.3})
			labels = append(labels, 0)
		}
	}

	var metrics *Metrics
	var err error
	for pass := 0; pass < 5; pass++ {
		metrics, err = m.PartialFit(rows, labels, names)
		require.NoError(t, err)
	}
	require.NotNil(t, metrics)
	assert.Equal(t, 200, metrics.SamplesSeen)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)

	probs := m.Predict([][]float64{{1, 0.3}, {0, 0.3}})
	assert.Greater(t, probs[0], 0.7)
	assert.Less(t, probs[1], 0.3)
}

func TestPartialFitLengthMismatch(t *testing.T) {
	m := NewModel("u1", Config{})
	_, err := m.PartialFit([][]float64{{1}}, []float64{1, 0}, []string{"f"})
	assert.Error(t, err)
}

func TestAlignKeepsWeightsByName(t *testing.T) {
	m := NewModel("u1", Config{MinSamplesForUpdate: 1, LearningRate: 0.5})

	_, err := m.PartialFit([][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}}, []float64{1, 1, 0, 0}, []string{"keep", "drop"})
	require.NoError(t, err)
	before := m.Predict([][]float64{{1, 0}})[0]

	// Same "keep" column in a new layout keeps its learned weight.
	_, err = m.PartialFit([][]float64{{0, 1}, {0, 1}, {0, 1}, {0, 1}}, []float64{1, 1, 1, 1}, []string{"new", "keep"})
	require.NoError(t, err)
	after := m.Predict([][]float64{{0, 1}})[0]
	assert.Greater(t, after, before*0.5, "keep weight survived the realignment")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m := NewModel("u1", Config{MinSamplesForUpdate: 1, LearningRate: 0.5})
	rows := [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}, {1, 0}}
	labels := []float64{1, 1, 0, 0, 1}
	_, err := m.PartialFit(rows, labels, []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, st))

	restored := NewModel("u1", Config{})
	ok, err := restored.Load(ctx, st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.SamplesSeen(), restored.SamplesSeen())

	want := m.Predict(rows)
	got := restored.Predict(rows)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}
}

func TestLoadMissingState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m := NewModel("nobody", Config{})
	ok, err := m.Load(ctx, st)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.7, m.Predict([][]float64{{1}})[0])
}

func TestSaveSkipsUntrainedModel(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m := NewModel("u1", Config{})
	require.NoError(t, m.Save(ctx, st))

	row, err := st.GetModelState(ctx, &store.FindModelState{UserID: "u1", ModelName: "completion_logistic"})
	require.NoError(t, err)
	assert.Nil(t, row)
}
