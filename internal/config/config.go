// Package config loads application configuration from file and environment.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Validate ValidateConfig `yaml:"validate" mapstructure:"validate"`
	Fit      FitConfig      `yaml:"fit" mapstructure:"fit"`
	Estimate EstimateConfig `yaml:"estimate" mapstructure:"estimate"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Surplus  SurplusConfig  `yaml:"surplus" mapstructure:"surplus"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EngineConfig configures batch processing.
type EngineConfig struct {
	MaxConcurrentItems int `yaml:"max_concurrent_items" mapstructure:"max_concurrent_items"`
}

// ValidateConfig holds record-validator penalties and thresholds. The
// defaults are tunable starting points, not derived constants.
type ValidateConfig struct {
	NegativeRatePenalty     float64 `yaml:"negative_rate_penalty" mapstructure:"negative_rate_penalty"`
	StorageDaysPenalty      float64 `yaml:"storage_days_penalty" mapstructure:"storage_days_penalty"`
	IncompletePeriodPenalty float64 `yaml:"incomplete_period_penalty" mapstructure:"incomplete_period_penalty"`
	MaxPlausibleDays        int     `yaml:"max_plausible_days" mapstructure:"max_plausible_days"`
	NegativeRateTolerance   float64 `yaml:"negative_rate_tolerance" mapstructure:"negative_rate_tolerance"`
	OvershootMargin         float64 `yaml:"overshoot_margin" mapstructure:"overshoot_margin"`
	OvershootSignal         float64 `yaml:"overshoot_signal" mapstructure:"overshoot_signal"`
	NegativeRateSignal      float64 `yaml:"negative_rate_signal" mapstructure:"negative_rate_signal"`
	ReviewErrorThreshold    float64 `yaml:"review_error_threshold" mapstructure:"review_error_threshold"`
	ReviewConfidenceFloor   float64 `yaml:"review_confidence_floor" mapstructure:"review_confidence_floor"`
}

// FitConfig holds curve-fitter bounds and quality thresholds.
type FitConfig struct {
	MaxB           float64 `yaml:"max_b" mapstructure:"max_b"`
	LinearEpsilon  float64 `yaml:"linear_epsilon" mapstructure:"linear_epsilon"` // |c| bound for the exponential family
	MinLinearR2    float64 `yaml:"min_linear_r2" mapstructure:"min_linear_r2"`
	AcceptableR2   float64 `yaml:"acceptable_r2" mapstructure:"acceptable_r2"`
	WarningR2      float64 `yaml:"warning_r2" mapstructure:"warning_r2"`
	AcceptableRMSE float64 `yaml:"acceptable_rmse" mapstructure:"acceptable_rmse"`
	WarningRMSE    float64 `yaml:"warning_rmse" mapstructure:"warning_rmse"`
	AcceptableMAE  float64 `yaml:"acceptable_mae" mapstructure:"acceptable_mae"`
	WarningMAE     float64 `yaml:"warning_mae" mapstructure:"warning_mae"`
}

// Multipliers scale the base coefficients into a category-level default.
type Multipliers struct {
	A float64 `yaml:"a" mapstructure:"a"`
	B float64 `yaml:"b" mapstructure:"b"`
	C float64 `yaml:"c" mapstructure:"c"`
}

// EstimateConfig holds adaptive-estimator parameters: the base learning rate,
// the base coefficients, category multipliers and the category×season
// adjustment-factor table.
type EstimateConfig struct {
	BaseLearningRate    float64                `yaml:"base_learning_rate" mapstructure:"base_learning_rate"`
	BaseA               float64                `yaml:"base_a" mapstructure:"base_a"`
	BaseB               float64                `yaml:"base_b" mapstructure:"base_b"`
	BaseC               float64                `yaml:"base_c" mapstructure:"base_c"`
	DefaultConfidence   float64                `yaml:"default_confidence" mapstructure:"default_confidence"`
	CategoryMultipliers map[string]Multipliers `yaml:"category_multipliers" mapstructure:"category_multipliers"`
	SeasonalFactors     map[string]float64     `yaml:"seasonal_factors" mapstructure:"seasonal_factors"`

	// Adjustments overrides the seasonal factor for specific categories:
	// category -> season -> factor.
	Adjustments map[string]map[string]float64 `yaml:"adjustments" mapstructure:"adjustments"`
}

// KeywordRule maps a keyword set to a category. Rules are evaluated in order;
// the first rule whose any keyword matches wins.
type KeywordRule struct {
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
	Category string   `yaml:"category" mapstructure:"category"`
}

// ClassifyConfig holds the ordered classification rule table. When RulesFile
// is set the table is loaded from that YAML file instead.
type ClassifyConfig struct {
	Rules     []KeywordRule `yaml:"rules" mapstructure:"rules"`
	RulesFile string        `yaml:"rules_file" mapstructure:"rules_file"`
}

// SurplusConfig holds per-item surplus rates with a global default. Surplus
// corrects incoming quantities only.
type SurplusConfig struct {
	Default float64            `yaml:"default" mapstructure:"default"`
	Items   map[string]float64 `yaml:"items" mapstructure:"items"`
}

// Rate returns the surplus rate for an item.
func (s SurplusConfig) Rate(item string) float64 {
	if r, ok := s.Items[item]; ok {
		return r
	}
	return s.Default
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHRINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Classify.Rules) == 0 {
		cfg.Classify.Rules = DefaultRules()
	}
	if cfg.Classify.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.Classify.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Classify.Rules = rules
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "shrinkage.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.max_concurrent_items", 4)

	v.SetDefault("validate.negative_rate_penalty", 0.5)
	v.SetDefault("validate.storage_days_penalty", 0.3)
	v.SetDefault("validate.incomplete_period_penalty", 0.4)
	v.SetDefault("validate.max_plausible_days", 3650)
	v.SetDefault("validate.negative_rate_tolerance", 0.01)
	v.SetDefault("validate.overshoot_margin", 0.05)
	v.SetDefault("validate.overshoot_signal", 0.6)
	v.SetDefault("validate.negative_rate_signal", 0.5)
	v.SetDefault("validate.review_error_threshold", 0.7)
	v.SetDefault("validate.review_confidence_floor", 0.2)

	v.SetDefault("fit.max_b", 10.0)
	v.SetDefault("fit.linear_epsilon", 0.005)
	v.SetDefault("fit.min_linear_r2", 0.3)
	v.SetDefault("fit.acceptable_r2", 0.85)
	v.SetDefault("fit.warning_r2", 0.7)
	v.SetDefault("fit.acceptable_rmse", 0.05)
	v.SetDefault("fit.warning_rmse", 0.1)
	v.SetDefault("fit.acceptable_mae", 0.03)
	v.SetDefault("fit.warning_mae", 0.07)

	v.SetDefault("estimate.base_learning_rate", 0.1)
	v.SetDefault("estimate.base_a", 0.015)
	v.SetDefault("estimate.base_b", 0.05)
	v.SetDefault("estimate.base_c", 0.001)
	v.SetDefault("estimate.default_confidence", 0.5)
	v.SetDefault("estimate.seasonal_factors", map[string]float64{
		"winter": 1.15,
		"spring": 1.05,
		"summer": 1.25,
		"autumn": 1.10,
	})

	v.SetDefault("surplus.default", 0.0)
}

// DefaultMultipliers returns the category multiplier table derived from
// typical weight-loss ranges per processing method.
func DefaultMultipliers() map[string]Multipliers {
	return map[string]Multipliers{
		"fresh":       {A: 1.0, B: 1.0, C: 1.0},
		"smoked":      {A: 0.8, B: 0.9, C: 0.9},
		"dried":       {A: 0.6, B: 0.7, C: 0.8},
		"salt_cured":  {A: 0.7, B: 0.8, C: 0.85},
		"hot_smoked":  {A: 0.75, B: 0.85, C: 0.8},
		"cold_smoked": {A: 0.85, B: 0.95, C: 0.85},
	}
}

// DefaultRules returns the built-in ordered classification rule table.
// Keywords cover both the Russian labeling shorthand used on inventory sheets
// and their English equivalents.
func DefaultRules() []KeywordRule {
	return []KeywordRule{
		{Keywords: []string{"с/с", "слабосол", "слаб.сол", "salt cured", "light salted"}, Category: "salt_cured"},
		{Keywords: []string{"г/к", "горяч", "hot"}, Category: "hot_smoked"},
		{Keywords: []string{"х/к", "холод", "cold"}, Category: "cold_smoked"},
		{Keywords: []string{"копч", "smoked"}, Category: "smoked"},
		{Keywords: []string{"суш", "dried"}, Category: "dried"},
		{Keywords: []string{"вял", "cured"}, Category: "dried"},
	}
}

// LoadRulesFile reads a classification rule table from a YAML file.
func LoadRulesFile(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules file %s", path)
	}
	var rules []KeywordRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, eris.Wrapf(err, "config: parse rules file %s", path)
	}
	if len(rules) == 0 {
		return nil, eris.Errorf("config: rules file %s contains no rules", path)
	}
	return rules, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
