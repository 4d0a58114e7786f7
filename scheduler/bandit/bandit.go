// Package bandit implements the contextual weight tuner: a per-user bandit
// that picks one of a small set of penalty-weight presets for each solve
// context and learns from schedule-outcome rewards. Strategies: UCB1,
// epsilon-greedy, and Thompson-style sampling over the arm belief.
package bandit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/pulseplan/pulse/store"
)

// Context describes one solve situation. The tuner buckets it into an arm
// group so similar situations share learned statistics.
type Context struct {
	HorizonDays int
	TaskCount   int
	TotalLoad   int // total estimated minutes across tasks
	Weekday     time.Weekday
	HasExams    bool
}

// Key coarsens the context into a tractable number of groups. The service
// persists it on job records so later feedback can credit the right arm.
func (c Context) Key() string {
	horizon := "short"
	if c.HorizonDays > 7 {
		horizon = "long"
	} else if c.HorizonDays > 2 {
		horizon = "week"
	}
	load := "light"
	switch {
	case c.TotalLoad > 1200:
		load = "heavy"
	case c.TotalLoad > 480:
		load = "medium"
	}
	exams := "noexam"
	if c.HasExams {
		exams = "exam"
	}
	return fmt.Sprintf("%s:%s:%s", horizon, load, exams)
}

// preset is one candidate weight vector, expressed as multipliers over the
// configured defaults.
type preset struct {
	name       string
	multiplier map[string]float64
}

// presets are the tuner's arms within each context group. "defaults" keeps
// the configured weights untouched; the others push the schedule toward a
// recognizable shape.
var presets = []preset{
	{name: "defaults", multiplier: map[string]float64{}},
	{name: "consolidate", multiplier: map[string]float64{"fragmentation": 2.0, "contextSwitch": 1.5}},
	{name: "spread", multiplier: map[string]float64{"fragmentation": 0.5, "spacingViolation": 2.0, "fairness": 1.5}},
	{name: "protect_evenings", multiplier: map[string]float64{"lateNight": 2.0, "avoidWindow": 1.5}},
	{name: "morning_push", multiplier: map[string]float64{"morning": 2.0, "lateNight": 1.5}},
}

// Config tunes the bandit.
type Config struct {
	// Strategy is one of "ucb", "epsilon_greedy", "thompson".
	Strategy string
	// ExplorationFactor is the UCB1 C constant. Default 1.5.
	ExplorationFactor float64
	// Epsilon is the exploration rate for epsilon_greedy. Default 0.1.
	Epsilon float64
	// DecayFactor discounts old observations on every update. Default 0.95.
	DecayFactor float64
	// MinObservations an arm needs before its statistics are trusted.
	MinObservations int
	// DefaultWeights is the base penalty-weight set the presets scale.
	DefaultWeights map[string]float64
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = "ucb"
	}
	if c.ExplorationFactor <= 0 {
		c.ExplorationFactor = 1.5
	}
	if c.Epsilon <= 0 || c.Epsilon > 1 {
		c.Epsilon = 0.1
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		c.DecayFactor = 0.95
	}
	if c.MinObservations <= 0 {
		c.MinObservations = 3
	}
	return c
}

// armStats tracks one (context, preset) arm with Welford mean/variance and
// decayed weight.
type armStats struct {
	Pulls  int     `json:"pulls"`
	Mean   float64 `json:"mean"`
	M2     float64 `json:"m2"`
	Weight float64 `json:"weight"` // decayed observation mass
}

func (a *armStats) update(reward, decay float64) {
	// Decay shrinks the influence of history before folding in the new
	// observation, so the arm tracks shifting user behavior.
	a.Weight = a.Weight*decay + 1
	a.Pulls++
	delta := reward - a.Mean
	a.Mean += delta / a.Weight
	a.M2 += delta * (reward - a.Mean)
}

func (a *armStats) variance() float64 {
	if a.Pulls < 2 {
		return 0
	}
	return a.M2 / float64(a.Pulls-1)
}

// payload is the persisted JSON document in bandit_states.
type payload struct {
	Arms map[string]*armStats `json:"arms"` // key "{context}|{preset}"
}

// Tuner suggests penalty weights per solve context. Not safe for concurrent
// use; the service serializes access per user.
type Tuner struct {
	cfg    Config
	userID string
	arms   map[string]*armStats
	total  int64
	rng    *rand.Rand
}

// NewTuner creates a tuner with no learned state. rng drives exploration and
// must come from the deterministic layer's seeded source.
func NewTuner(userID string, cfg Config, rng *rand.Rand) *Tuner {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Tuner{
		cfg:    cfg.withDefaults(),
		userID: userID,
		arms:   make(map[string]*armStats),
		rng:    rng,
	}
}

// SuggestWeights picks a preset for the context and returns the resulting
// named weight set plus the chosen preset name for later attribution.
// With no learned state the defaults preset wins.
func (t *Tuner) SuggestWeights(c Context) (map[string]float64, string) {
	chosen := t.pick(c.Key())
	weights := make(map[string]float64, len(t.cfg.DefaultWeights))
	for name, w := range t.cfg.DefaultWeights {
		weights[name] = w
	}
	for name, mult := range chosen.multiplier {
		if w, ok := weights[name]; ok {
			weights[name] = w * mult
		}
	}
	return weights, chosen.name
}

func (t *Tuner) pick(ctxKey string) preset {
	switch t.cfg.Strategy {
	case "epsilon_greedy":
		return t.pickEpsilonGreedy(ctxKey)
	case "thompson":
		return t.pickThompson(ctxKey)
	default:
		return t.pickUCB(ctxKey)
	}
}

func (t *Tuner) pickUCB(ctxKey string) preset {
	best := presets[0]
	bestScore := math.Inf(-1)
	for _, p := range presets {
		arm := t.arms[ctxKey+"|"+p.name]
		var score float64
		switch {
		case arm == nil || arm.Pulls < t.cfg.MinObservations:
			// Under-observed arms get maximum optimism, broken by preset
			// order so cold starts are deterministic ("defaults" first).
			score = math.Inf(1)
		default:
			score = arm.Mean + t.cfg.ExplorationFactor*math.Sqrt(math.Log(float64(t.total+1))/float64(arm.Pulls))
		}
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best
}

func (t *Tuner) pickEpsilonGreedy(ctxKey string) preset {
	if t.rng.Float64() < t.cfg.Epsilon {
		return presets[t.rng.Intn(len(presets))]
	}
	best := presets[0]
	bestMean := math.Inf(-1)
	for _, p := range presets {
		arm := t.arms[ctxKey+"|"+p.name]
		mean := 0.5 // optimistic neutral prior for unseen arms
		if arm != nil && arm.Pulls >= t.cfg.MinObservations {
			mean = arm.Mean
		}
		if mean > bestMean {
			bestMean = mean
			best = p
		}
	}
	return best
}

func (t *Tuner) pickThompson(ctxKey string) preset {
	best := presets[0]
	bestSample := math.Inf(-1)
	for _, p := range presets {
		arm := t.arms[ctxKey+"|"+p.name]
		mean, sd := 0.5, 0.5
		if arm != nil && arm.Pulls > 0 {
			mean = arm.Mean
			sd = math.Sqrt(arm.variance()/float64(arm.Pulls)) + 0.05
		}
		sample := mean + sd*t.rng.NormFloat64()
		if sample > bestSample {
			bestSample = sample
			best = p
		}
	}
	return best
}

// Update folds a reward into the arm the given preset pulled for the context.
func (t *Tuner) Update(c Context, presetName string, reward float64) {
	t.UpdateArm(c.Key(), presetName, reward)
}

// UpdateArm is Update keyed by a previously captured context key.
func (t *Tuner) UpdateArm(contextKey, presetName string, reward float64) {
	if reward < 0 {
		reward = 0
	} else if reward > 1 {
		reward = 1
	}
	key := contextKey + "|" + presetName
	arm, ok := t.arms[key]
	if !ok {
		arm = &armStats{}
		t.arms[key] = arm
	}
	arm.update(reward, t.cfg.DecayFactor)
	t.total++
}

// TotalPulls returns the lifetime observation count.
func (t *Tuner) TotalPulls() int64 { return t.total }

// ArmSnapshot exposes one arm's statistics for diagnostics.
type ArmSnapshot struct {
	Key   string  `json:"key"`
	Pulls int     `json:"pulls"`
	Mean  float64 `json:"mean"`
}

// Arms returns the learned arms sorted by key.
func (t *Tuner) Arms() []ArmSnapshot {
	out := make([]ArmSnapshot, 0, len(t.arms))
	for key, arm := range t.arms {
		out = append(out, ArmSnapshot{Key: key, Pulls: arm.Pulls, Mean: arm.Mean})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Save persists the arm statistics.
func (t *Tuner) Save(ctx context.Context, st *store.Store) error {
	if t.total == 0 {
		return nil
	}
	raw, err := json.Marshal(payload{Arms: t.arms})
	if err != nil {
		return fmt.Errorf("failed to encode bandit state: %w", err)
	}
	_, err = st.UpsertBanditState(ctx, &store.UpsertBanditState{
		UserID:     t.userID,
		Payload:    string(raw),
		TotalPulls: t.total,
	})
	if err != nil {
		return fmt.Errorf("failed to save bandit state: %w", err)
	}
	return nil
}

// Load restores the arm statistics. Returns false when no saved state exists.
func (t *Tuner) Load(ctx context.Context, st *store.Store) (bool, error) {
	row, err := st.GetBanditState(ctx, &store.FindBanditState{UserID: t.userID})
	if err != nil {
		return false, fmt.Errorf("failed to load bandit state: %w", err)
	}
	if row == nil {
		return false, nil
	}
	var decoded payload
	if err := json.Unmarshal([]byte(row.Payload), &decoded); err != nil {
		return false, fmt.Errorf("failed to decode bandit state: %w", err)
	}
	if decoded.Arms != nil {
		t.arms = decoded.Arms
	}
	t.total = row.TotalPulls
	return true, nil
}

// PresetNames lists the arm presets in their fixed order.
func PresetNames() []string {
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.name
	}
	return names
}
