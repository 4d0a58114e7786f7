// Package config holds the scheduler runtime configuration: a YAML/JSON file
// with SCHEDULER_* environment overrides, validated ranges, and an atomic
// manager for runtime updates and export.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the scheduler runtime configuration.
type Config struct {
	Environment                string          `mapstructure:"environment" yaml:"environment" json:"environment"`
	Solver                     SolverConfig    `mapstructure:"solver" yaml:"solver" json:"solver"`
	Learning                   LearningConfig  `mapstructure:"learning" yaml:"learning" json:"learning"`
	DefaultWeights             WeightsConfig   `mapstructure:"default_weights" yaml:"default_weights" json:"default_weights"`
	Features                   FeaturesConfig  `mapstructure:"features" yaml:"features" json:"features"`
	Telemetry                  TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Cache                      CacheConfig     `mapstructure:"cache" yaml:"cache" json:"cache"`
	Database                   DatabaseConfig  `mapstructure:"database" yaml:"database" json:"database"`
	TimeGranularityMinutes     int             `mapstructure:"time_granularity_minutes" yaml:"time_granularity_minutes" json:"time_granularity_minutes"`
	MaxHorizonDays             int             `mapstructure:"max_horizon_days" yaml:"max_horizon_days" json:"max_horizon_days"`
	DefaultHorizonDays         int             `mapstructure:"default_horizon_days" yaml:"default_horizon_days" json:"default_horizon_days"`
	EnableFallbackSolver       bool            `mapstructure:"enable_fallback_solver" yaml:"enable_fallback_solver" json:"enable_fallback_solver"`
	EnableAdaptiveRescheduling bool            `mapstructure:"enable_adaptive_rescheduling" yaml:"enable_adaptive_rescheduling" json:"enable_adaptive_rescheduling"`
	RateLimitRequestsPerMinute int             `mapstructure:"rate_limit_requests_per_minute" yaml:"rate_limit_requests_per_minute" json:"rate_limit_requests_per_minute"`
}

// SolverConfig bounds the constraint solve and the stability layer around it.
type SolverConfig struct {
	TimeLimitSeconds           float64 `mapstructure:"time_limit_seconds" yaml:"time_limit_seconds" json:"time_limit_seconds"`
	NumSearchWorkers           int     `mapstructure:"num_search_workers" yaml:"num_search_workers" json:"num_search_workers"`
	RandomSeed                 int64   `mapstructure:"random_seed" yaml:"random_seed" json:"random_seed"`
	NoStudyWindowsHard         bool    `mapstructure:"no_study_windows_hard" yaml:"no_study_windows_hard" json:"no_study_windows_hard"`
	AvoidWindowsHard           bool    `mapstructure:"avoid_windows_hard" yaml:"avoid_windows_hard" json:"avoid_windows_hard"`
	MaxMoveRatioThreshold      float64 `mapstructure:"max_move_ratio_threshold" yaml:"max_move_ratio_threshold" json:"max_move_ratio_threshold"`
	FrozenWindowHours          float64 `mapstructure:"frozen_window_hours" yaml:"frozen_window_hours" json:"frozen_window_hours"`
	FrozenMoveToleranceMinutes int     `mapstructure:"frozen_move_tolerance_minutes" yaml:"frozen_move_tolerance_minutes" json:"frozen_move_tolerance_minutes"`
	InertiaPenaltyWeight       float64 `mapstructure:"inertia_penalty_weight" yaml:"inertia_penalty_weight" json:"inertia_penalty_weight"`
	MissedBoostFactor          float64 `mapstructure:"missed_boost_factor" yaml:"missed_boost_factor" json:"missed_boost_factor"`
	MissedBoostCap             float64 `mapstructure:"missed_boost_cap" yaml:"missed_boost_cap" json:"missed_boost_cap"`
}

// LearningConfig drives the completion model and the weight tuner.
type LearningConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MinSamplesForUpdate int           `mapstructure:"min_samples_for_update" yaml:"min_samples_for_update" json:"min_samples_for_update"`
	LearningRate        float64       `mapstructure:"learning_rate" yaml:"learning_rate" json:"learning_rate"`
	BanditStrategy      string        `mapstructure:"bandit_strategy" yaml:"bandit_strategy" json:"bandit_strategy"`
	ExplorationFactor   float64       `mapstructure:"exploration_factor" yaml:"exploration_factor" json:"exploration_factor"`
	Epsilon             float64       `mapstructure:"epsilon" yaml:"epsilon" json:"epsilon"`
	DecayFactor         float64       `mapstructure:"decay_factor" yaml:"decay_factor" json:"decay_factor"`
	MinObservations     int           `mapstructure:"min_observations" yaml:"min_observations" json:"min_observations"`
	RewardWeights       RewardWeights `mapstructure:"reward_weights" yaml:"reward_weights" json:"reward_weights"`
}

// RewardWeights weighs schedule-outcome signals into the bandit reward.
type RewardWeights struct {
	Completion   float64 `mapstructure:"completion" yaml:"completion" json:"completion"`
	Satisfaction float64 `mapstructure:"satisfaction" yaml:"satisfaction" json:"satisfaction"`
	Reschedule   float64 `mapstructure:"reschedule" yaml:"reschedule" json:"reschedule"`
	Missed       float64 `mapstructure:"missed" yaml:"missed" json:"missed"`
}

// WeightsConfig is the fixed named penalty-weight set used when the tuner has
// no learned suggestion.
type WeightsConfig struct {
	ContextSwitch    float64 `mapstructure:"context_switch" yaml:"context_switch" json:"context_switch"`
	AvoidWindow      float64 `mapstructure:"avoid_window" yaml:"avoid_window" json:"avoid_window"`
	LateNight        float64 `mapstructure:"late_night" yaml:"late_night" json:"late_night"`
	Morning          float64 `mapstructure:"morning" yaml:"morning" json:"morning"`
	Fragmentation    float64 `mapstructure:"fragmentation" yaml:"fragmentation" json:"fragmentation"`
	SpacingViolation float64 `mapstructure:"spacing_violation" yaml:"spacing_violation" json:"spacing_violation"`
	Fairness         float64 `mapstructure:"fairness" yaml:"fairness" json:"fairness"`
}

// FeaturesConfig bounds the history features fed to the completion model.
type FeaturesConfig struct {
	HistoryDays      int  `mapstructure:"history_days" yaml:"history_days" json:"history_days"`
	RecentWindowDays int  `mapstructure:"recent_window_days" yaml:"recent_window_days" json:"recent_window_days"`
	EnableHistory    bool `mapstructure:"enable_history" yaml:"enable_history" json:"enable_history"`
}

// TelemetryConfig controls metric collection and span logging.
type TelemetryConfig struct {
	Enabled          bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	TracingEnabled   bool `mapstructure:"tracing_enabled" yaml:"tracing_enabled" json:"tracing_enabled"`
	PointsBufferSize int  `mapstructure:"points_buffer_size" yaml:"points_buffer_size" json:"points_buffer_size"`
}

// CacheConfig sets the TTLs of every KV-backed cache.
type CacheConfig struct {
	IdempotencyTTLMinutes     int `mapstructure:"idempotency_ttl_minutes" yaml:"idempotency_ttl_minutes" json:"idempotency_ttl_minutes"`
	ConversationTTLMinutes    int `mapstructure:"conversation_ttl_minutes" yaml:"conversation_ttl_minutes" json:"conversation_ttl_minutes"`
	ClarificationTTLMinutes   int `mapstructure:"clarification_ttl_minutes" yaml:"clarification_ttl_minutes" json:"clarification_ttl_minutes"`
	TurnCacheSize             int `mapstructure:"turn_cache_size" yaml:"turn_cache_size" json:"turn_cache_size"`
	TurnCacheTTLHours         int `mapstructure:"turn_cache_ttl_hours" yaml:"turn_cache_ttl_hours" json:"turn_cache_ttl_hours"`
	UserContextTTLMinutes     int `mapstructure:"user_context_ttl_minutes" yaml:"user_context_ttl_minutes" json:"user_context_ttl_minutes"`
	LLMCacheTTLMinutes        int `mapstructure:"llm_cache_ttl_minutes" yaml:"llm_cache_ttl_minutes" json:"llm_cache_ttl_minutes"`
	JobStatusTTLMinutes       int `mapstructure:"job_status_ttl_minutes" yaml:"job_status_ttl_minutes" json:"job_status_ttl_minutes"`
	SummaryAfterTurns         int `mapstructure:"summary_after_turns" yaml:"summary_after_turns" json:"summary_after_turns"`
	MemoryCapacity            int `mapstructure:"memory_capacity" yaml:"memory_capacity" json:"memory_capacity"`
	DeduplicateInFlightSolves bool `mapstructure:"deduplicate_in_flight_solves" yaml:"deduplicate_in_flight_solves" json:"deduplicate_in_flight_solves"`
}

// DatabaseConfig tunes the sql connection pool.
type DatabaseConfig struct {
	MaxOpenConns        int `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns        int `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeMins int `mapstructure:"conn_max_lifetime_minutes" yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
}

// envPrefix maps dot-path config keys to SCHEDULER_* environment variables,
// e.g. solver.time_limit_seconds -> SCHEDULER_SOLVER_TIME_LIMIT_SECONDS.
const envPrefix = "SCHEDULER"

// defaults is the single list of every known key. Registering each key keeps
// env-only overrides visible to viper.Unmarshal.
var defaults = map[string]any{
	"environment":                    "dev",
	"solver.time_limit_seconds":      10.0,
	"solver.num_search_workers":      4,
	"solver.random_seed":             int64(42),
	"solver.no_study_windows_hard":   true,
	"solver.avoid_windows_hard":      false,
	"solver.max_move_ratio_threshold": 0.2,
	"solver.frozen_window_hours":      12.0,
	"solver.frozen_move_tolerance_minutes": 15,
	"solver.inertia_penalty_weight":  5.0,
	"solver.missed_boost_factor":     1.5,
	"solver.missed_boost_cap":        3.0,
	"learning.enabled":               true,
	"learning.min_samples_for_update": 5,
	"learning.learning_rate":         0.1,
	"learning.bandit_strategy":       "ucb",
	"learning.exploration_factor":    1.5,
	"learning.epsilon":               0.1,
	"learning.decay_factor":          0.95,
	"learning.min_observations":      3,
	"learning.reward_weights.completion":   0.4,
	"learning.reward_weights.satisfaction": 0.2,
	"learning.reward_weights.reschedule":   0.2,
	"learning.reward_weights.missed":       0.2,
	"default_weights.context_switch":    2.0,
	"default_weights.avoid_window":      3.0,
	"default_weights.late_night":        2.5,
	"default_weights.morning":           1.0,
	"default_weights.fragmentation":     1.5,
	"default_weights.spacing_violation": 1.0,
	"default_weights.fairness":          1.0,
	"features.history_days":       30,
	"features.recent_window_days": 7,
	"features.enable_history":     true,
	"telemetry.enabled":            true,
	"telemetry.tracing_enabled":    false,
	"telemetry.points_buffer_size": 4096,
	"cache.idempotency_ttl_minutes":   60,
	"cache.conversation_ttl_minutes":  60,
	"cache.clarification_ttl_minutes": 5,
	"cache.turn_cache_size":           20,
	"cache.turn_cache_ttl_hours":      24,
	"cache.user_context_ttl_minutes":  30,
	"cache.llm_cache_ttl_minutes":     60,
	"cache.job_status_ttl_minutes":    120,
	"cache.summary_after_turns":       30,
	"cache.memory_capacity":           4096,
	"cache.deduplicate_in_flight_solves": true,
	"database.max_open_conns":           10,
	"database.max_idle_conns":           5,
	"database.conn_max_lifetime_minutes": 30,
	"time_granularity_minutes":       30,
	"max_horizon_days":               30,
	"default_horizon_days":           7,
	"enable_fallback_solver":         true,
	"enable_adaptive_rescheduling":   true,
	"rate_limit_requests_per_minute": 60,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path (empty means defaults + env only),
// applies SCHEDULER_* overrides, and validates.
func Load(path string) (*Config, *viper.Viper, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read scheduler config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, errors.Wrap(err, "failed to unmarshal scheduler config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

// Default returns the built-in configuration without reading file or env.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	var cfg Config
	// Defaults are statically known; unmarshal cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate enforces the documented ranges.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return errors.New("environment is required")
	}
	if c.Solver.TimeLimitSeconds < 1 || c.Solver.TimeLimitSeconds > 300 {
		return errors.Errorf("solver.time_limit_seconds must be in [1, 300], got %v", c.Solver.TimeLimitSeconds)
	}
	if c.Solver.NumSearchWorkers < 1 || c.Solver.NumSearchWorkers > 16 {
		return errors.Errorf("solver.num_search_workers must be in [1, 16], got %d", c.Solver.NumSearchWorkers)
	}
	if c.Solver.MaxMoveRatioThreshold < 0 || c.Solver.MaxMoveRatioThreshold > 1 {
		return errors.Errorf("solver.max_move_ratio_threshold must be in [0, 1], got %v", c.Solver.MaxMoveRatioThreshold)
	}
	if c.Solver.FrozenWindowHours < 0 || c.Solver.FrozenWindowHours > 72 {
		return errors.Errorf("solver.frozen_window_hours must be in [0, 72], got %v", c.Solver.FrozenWindowHours)
	}
	if c.Solver.InertiaPenaltyWeight < 0 {
		return errors.Errorf("solver.inertia_penalty_weight must be non-negative, got %v", c.Solver.InertiaPenaltyWeight)
	}
	if c.Solver.MissedBoostFactor < 1 {
		return errors.Errorf("solver.missed_boost_factor must be >= 1, got %v", c.Solver.MissedBoostFactor)
	}
	if c.TimeGranularityMinutes != 15 && c.TimeGranularityMinutes != 30 {
		return errors.Errorf("time_granularity_minutes must be 15 or 30, got %d", c.TimeGranularityMinutes)
	}
	if c.MaxHorizonDays < 1 || c.MaxHorizonDays > 90 {
		return errors.Errorf("max_horizon_days must be in [1, 90], got %d", c.MaxHorizonDays)
	}
	if c.DefaultHorizonDays < 1 || c.DefaultHorizonDays > c.MaxHorizonDays {
		return errors.Errorf("default_horizon_days must be in [1, %d], got %d", c.MaxHorizonDays, c.DefaultHorizonDays)
	}
	if c.Learning.MinSamplesForUpdate < 1 {
		return errors.Errorf("learning.min_samples_for_update must be >= 1, got %d", c.Learning.MinSamplesForUpdate)
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate > 1 {
		return errors.Errorf("learning.learning_rate must be in (0, 1], got %v", c.Learning.LearningRate)
	}
	switch c.Learning.BanditStrategy {
	case "ucb", "epsilon_greedy", "thompson":
	default:
		return errors.Errorf("learning.bandit_strategy must be one of ucb, epsilon_greedy, thompson, got %q", c.Learning.BanditStrategy)
	}
	if c.Learning.Epsilon < 0 || c.Learning.Epsilon > 1 {
		return errors.Errorf("learning.epsilon must be in [0, 1], got %v", c.Learning.Epsilon)
	}
	if c.Learning.DecayFactor <= 0 || c.Learning.DecayFactor > 1 {
		return errors.Errorf("learning.decay_factor must be in (0, 1], got %v", c.Learning.DecayFactor)
	}
	for name, w := range c.DefaultWeights.Named() {
		if w < 0 {
			return errors.Errorf("default_weights.%s must be non-negative, got %v", name, w)
		}
	}
	if c.RateLimitRequestsPerMinute < 1 || c.RateLimitRequestsPerMinute > 10000 {
		return errors.Errorf("rate_limit_requests_per_minute must be in [1, 10000], got %d", c.RateLimitRequestsPerMinute)
	}
	if c.Cache.TurnCacheSize < 1 {
		return errors.Errorf("cache.turn_cache_size must be >= 1, got %d", c.Cache.TurnCacheSize)
	}
	return nil
}

// Named returns the weight set keyed by its canonical names.
func (w WeightsConfig) Named() map[string]float64 {
	return map[string]float64{
		"contextSwitch":    w.ContextSwitch,
		"avoidWindow":      w.AvoidWindow,
		"lateNight":        w.LateNight,
		"morning":          w.Morning,
		"fragmentation":    w.Fragmentation,
		"spacingViolation": w.SpacingViolation,
		"fairness":         w.Fairness,
	}
}
