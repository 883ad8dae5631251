package regremedy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"regremedy/diag"
	"regremedy/pipeline"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a plain number of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the caller-set configuration surface of the engine. Every
// classifier threshold and loop bound lives here; nothing is hard-coded in
// the classifiers.
type Config struct {
	MaxIterations           int      `yaml:"max_iterations" validate:"gte=1,lte=1000"`
	FitTimeout              Duration `yaml:"fit_timeout" validate:"gt=0"`
	HeteroscedasticityRatio float64  `yaml:"heteroscedasticity_ratio" validate:"gt=1"`
	SkewnessThreshold       float64  `yaml:"skewness_threshold" validate:"gt=0"`
	KurtosisThreshold       float64  `yaml:"kurtosis_threshold" validate:"gt=0"`
	QQCorrelationMin        float64  `yaml:"qq_correlation_min" validate:"gt=0,lte=1"`
	GroupSizeTolerance      float64  `yaml:"group_size_tolerance" validate:"gte=0,lt=1"`
	MinRandomEffectLevels   int      `yaml:"min_random_effect_levels" validate:"gte=2"`
	WeightFloor             float64  `yaml:"weight_floor" validate:"gt=0"`
	ClipWeights             bool     `yaml:"clip_weights"`
}

// DefaultConfig returns the document defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:           pipeline.DefaultMaxIterations,
		FitTimeout:              Duration(pipeline.DefaultFitTimeout),
		HeteroscedasticityRatio: diag.DefaultHeteroRatio,
		SkewnessThreshold:       diag.DefaultSkewnessThreshold,
		KurtosisThreshold:       diag.DefaultKurtosisThreshold,
		QQCorrelationMin:        diag.DefaultQQCorrelationMin,
		GroupSizeTolerance:      diag.DefaultGroupSizeTolerance,
		MinRandomEffectLevels:   5,
		WeightFloor:             1e-8,
	}
}

// LoadConfig reads a YAML config file, fills unset fields with defaults,
// applies REGREMEDY_* environment overrides, and validates the result. An
// empty path skips the file and returns defaults plus overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Env vars override YAML values.
	envOverrideInt(&cfg.MaxIterations, "REGREMEDY_MAX_ITERATIONS")
	envOverrideFloat(&cfg.HeteroscedasticityRatio, "REGREMEDY_HETEROSCEDASTICITY_RATIO")
	envOverrideFloat(&cfg.SkewnessThreshold, "REGREMEDY_SKEWNESS_THRESHOLD")
	envOverrideFloat(&cfg.KurtosisThreshold, "REGREMEDY_KURTOSIS_THRESHOLD")
	envOverrideInt(&cfg.MinRandomEffectLevels, "REGREMEDY_MIN_RANDOM_EFFECT_LEVELS")
	envOverrideDuration(&cfg.FitTimeout, "REGREMEDY_FIT_TIMEOUT")

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Pipeline maps the flat config onto the pipeline's config.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		MaxIterations:         c.MaxIterations,
		FitTimeout:            time.Duration(c.FitTimeout),
		MinRandomEffectLevels: c.MinRandomEffectLevels,
		WeightFloor:           c.WeightFloor,
		ClipWeights:           c.ClipWeights,
		Diag: diag.Config{
			SkewnessThreshold:  c.SkewnessThreshold,
			KurtosisThreshold:  c.KurtosisThreshold,
			QQCorrelationMin:   c.QQCorrelationMin,
			HeteroRatio:        c.HeteroscedasticityRatio,
			GroupSizeTolerance: c.GroupSizeTolerance,
		},
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envOverrideFloat(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*target = parsed
		}
	}
}

func envOverrideDuration(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = Duration(parsed)
		}
	}
}
