package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jask/tesouraria/internal/match"
	"github.com/jask/tesouraria/internal/money"
)

// Divergent-session policies for finalize.
const (
	PolicyRequireRecount     = "require_recount"
	PolicyConferenteOverride = "conferente_override"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig
	Log       LogConfig
	Matching  MatchingConfig
	Counting  CountingConfig
	Scheduler SchedulerConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string
	Format string
}

// MatchingConfig tunes candidate generation.
type MatchingConfig struct {
	AmountTolerance    string  `mapstructure:"amount_tolerance"`
	DateWindowDays     int     `mapstructure:"date_window_days"`
	MaxGroupSize       int     `mapstructure:"max_group_size"`
	MaxGroupCandidates int     `mapstructure:"max_group_candidates"`
	MaxSearchNodes     int     `mapstructure:"max_search_nodes"`
	ScoreMin           float64 `mapstructure:"score_min"`
	DateHalfLifeDays   float64 `mapstructure:"date_half_life_days"`
	Weights            WeightsConfig
	GroupPenalty       float64  `mapstructure:"group_penalty"`
	NoiseTokens        []string `mapstructure:"noise_tokens"`
	SuppressRejected   bool     `mapstructure:"suppress_rejected"`
}

// WeightsConfig weighs the score factors; they must sum to 1.
type WeightsConfig struct {
	Amount      float64
	Date        float64
	Description float64
	Shape       float64
}

// CountingConfig tunes counting-session confrontation and finalize.
type CountingConfig struct {
	Tolerance       string
	DivergentPolicy string `mapstructure:"divergent_policy"`
	LookbackDays    int    `mapstructure:"lookback_days"`
	// Conferentes are the actor ids allowed to finalize or reject sessions.
	Conferentes     []string
}

// SchedulerConfig drives periodic regeneration.
type SchedulerConfig struct {
	Interval time.Duration
	Targets  []TargetConfig
}

// TargetConfig is one scope the scheduler regenerates.
type TargetConfig struct {
	OrgID     string `mapstructure:"org_id"`
	BranchID  string `mapstructure:"branch_id"`
	AccountID string `mapstructure:"account_id"`
}

// Default returns the configuration used when no file or env override is present.
func Default() Config {
	eng := match.DefaultConfig()
	return Config{
		Database: DatabaseConfig{Path: filepath.Join(os.Getenv("HOME"), ".local", "share", "tesouraria", "tesouraria.db")},
		Log:      LogConfig{Level: "info", Format: "text"},
		Matching: MatchingConfig{
			AmountTolerance:    "0.00",
			DateWindowDays:     eng.DateWindowDays,
			MaxGroupSize:       eng.MaxGroupSize,
			MaxGroupCandidates: eng.MaxGroupCandidates,
			MaxSearchNodes:     eng.MaxSearchNodes,
			ScoreMin:           match.DefaultScoreMin,
			DateHalfLifeDays:   eng.DateHalfLifeDays,
			Weights: WeightsConfig{
				Amount:      eng.Weights.Amount,
				Date:        eng.Weights.Date,
				Description: eng.Weights.Description,
				Shape:       eng.Weights.Shape,
			},
			GroupPenalty:     eng.GroupPenalty,
			NoiseTokens:      eng.NoiseTokens,
			SuppressRejected: true,
		},
		Counting: CountingConfig{
			Tolerance:       "0.00",
			DivergentPolicy: PolicyRequireRecount,
			LookbackDays:    30,
			Conferentes:     []string{},
		},
		Scheduler: SchedulerConfig{Interval: 15 * time.Minute},
	}
}

// Load reads configuration from file and env. Env var overrides use prefix TESOURARIA_.
// An explicit path wins over TESOURARIA_CONFIG, which wins over the default location.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv("TESOURARIA_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "tesouraria"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("TESOURARIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Save writes cfg as TOML to path, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, cfg)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("database.path", c.Database.Path)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("matching.amount_tolerance", c.Matching.AmountTolerance)
	v.SetDefault("matching.date_window_days", c.Matching.DateWindowDays)
	v.SetDefault("matching.max_group_size", c.Matching.MaxGroupSize)
	v.SetDefault("matching.max_group_candidates", c.Matching.MaxGroupCandidates)
	v.SetDefault("matching.max_search_nodes", c.Matching.MaxSearchNodes)
	v.SetDefault("matching.score_min", c.Matching.ScoreMin)
	v.SetDefault("matching.date_half_life_days", c.Matching.DateHalfLifeDays)
	v.SetDefault("matching.weights.amount", c.Matching.Weights.Amount)
	v.SetDefault("matching.weights.date", c.Matching.Weights.Date)
	v.SetDefault("matching.weights.description", c.Matching.Weights.Description)
	v.SetDefault("matching.weights.shape", c.Matching.Weights.Shape)
	v.SetDefault("matching.group_penalty", c.Matching.GroupPenalty)
	v.SetDefault("matching.noise_tokens", c.Matching.NoiseTokens)
	v.SetDefault("matching.suppress_rejected", c.Matching.SuppressRejected)
	v.SetDefault("counting.tolerance", c.Counting.Tolerance)
	v.SetDefault("counting.divergent_policy", c.Counting.DivergentPolicy)
	v.SetDefault("counting.lookback_days", c.Counting.LookbackDays)
	v.SetDefault("counting.conferentes", c.Counting.Conferentes)
	v.SetDefault("scheduler.interval", c.Scheduler.Interval.String())
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.Matching.Engine(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}
	if c.Matching.ScoreMin < 0 || c.Matching.ScoreMin > 1 {
		errs = append(errs, fmt.Errorf("matching.score_min must be within [0,1], got %v", c.Matching.ScoreMin))
	}
	if _, err := c.Counting.ToleranceCents(); err != nil {
		errs = append(errs, fmt.Errorf("counting.tolerance: %w", err))
	}
	switch c.Counting.DivergentPolicy {
	case PolicyRequireRecount, PolicyConferenteOverride:
	default:
		errs = append(errs, fmt.Errorf("counting.divergent_policy: unknown policy %q", c.Counting.DivergentPolicy))
	}
	if c.Counting.LookbackDays <= 0 {
		errs = append(errs, errors.New("counting.lookback_days must be positive"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	for i, t := range c.Scheduler.Targets {
		if t.OrgID == "" || t.BranchID == "" {
			errs = append(errs, fmt.Errorf("scheduler.targets[%d]: org_id and branch_id are required", i))
		}
	}
	return errors.Join(errs...)
}

// Engine converts the matching section into matcher settings.
func (m MatchingConfig) Engine() (match.Config, error) {
	tol, err := money.Parse(m.AmountTolerance)
	if err != nil {
		return match.Config{}, fmt.Errorf("amount_tolerance: %w", err)
	}
	if tol < 0 {
		return match.Config{}, errors.New("amount_tolerance must not be negative")
	}
	cfg := match.Config{
		AmountToleranceCents: tol,
		DateWindowDays:       m.DateWindowDays,
		MaxGroupSize:         m.MaxGroupSize,
		MaxGroupCandidates:   m.MaxGroupCandidates,
		MaxSearchNodes:       m.MaxSearchNodes,
		DateHalfLifeDays:     m.DateHalfLifeDays,
		Weights: match.Weights{
			Amount:      m.Weights.Amount,
			Date:        m.Weights.Date,
			Description: m.Weights.Description,
			Shape:       m.Weights.Shape,
		},
		GroupPenalty: m.GroupPenalty,
		NoiseTokens:  m.NoiseTokens,
	}
	if err := cfg.Validate(); err != nil {
		return match.Config{}, err
	}
	return cfg, nil
}

// ToleranceCents parses the counting tolerance.
func (c CountingConfig) ToleranceCents() (int64, error) {
	tol, err := money.Parse(c.Tolerance)
	if err != nil {
		return 0, err
	}
	if tol < 0 {
		return 0, errors.New("must not be negative")
	}
	return tol, nil
}
