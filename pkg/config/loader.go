package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the main configuration file inside the config directory.
const ConfigFile = "omnidesk.yaml"

// OmnideskYAMLConfig represents the complete omnidesk.yaml file structure
type OmnideskYAMLConfig struct {
	Escalation *EscalationConfig `yaml:"escalation"`
	Keywords   *KeywordLists     `yaml:"keywords"`
	Intents    []IntentRule      `yaml:"intents"`
	Responder  *ResponderConfig  `yaml:"responder"`
	Delivery   *DeliveryConfig   `yaml:"delivery"`
	Events     *EventsConfig     `yaml:"events"`
	Retention  *RetentionConfig  `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load omnidesk.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"escalation_keywords", stats.EscalationKeywords,
		"negative_keywords", stats.NegativeKeywords,
		"positive_keywords", stats.PositiveKeywords,
		"intent_rules", stats.IntentRules,
		"routing_rules", stats.RoutingRules)

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
// Used by tests and by tools that run without a config directory.
func Default() *Config {
	cfg, err := resolve("", &OmnideskYAMLConfig{})
	if err != nil {
		// Merging empty user config into defaults cannot fail.
		panic(err)
	}
	return cfg
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	userConfig, err := loader.loadOmnideskYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFile, err)
	}

	return resolve(configDir, userConfig)
}

// resolve merges user configuration over built-in defaults.
func resolve(configDir string, user *OmnideskYAMLConfig) (*Config, error) {
	builtin := GetBuiltinConfig()

	escalation := DefaultEscalationConfig()
	if user.Escalation != nil {
		if err := mergo.Merge(escalation, user.Escalation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge escalation config: %w", err)
		}
	}

	// Non-empty user lists replace the built-in list wholesale.
	keywords := &KeywordLists{
		Escalation:        append([]string(nil), builtin.Keywords.Escalation...),
		NegativeSentiment: append([]string(nil), builtin.Keywords.NegativeSentiment...),
		PositiveSentiment: append([]string(nil), builtin.Keywords.PositiveSentiment...),
	}
	if user.Keywords != nil {
		if err := mergo.Merge(keywords, user.Keywords, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge keyword lists: %w", err)
		}
	}

	intents := cloneIntents(builtin.Intents)
	if len(user.Intents) > 0 {
		intents = cloneIntents(user.Intents)
	}

	responder := DefaultResponderConfig()
	if user.Responder != nil {
		if err := mergo.Merge(responder, user.Responder, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge responder config: %w", err)
		}
	}

	delivery := DefaultDeliveryConfig()
	if user.Delivery != nil {
		if err := mergo.Merge(delivery, user.Delivery, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge delivery config: %w", err)
		}
	}

	events := DefaultEventsConfig()
	if user.Events != nil {
		if err := mergo.Merge(events, user.Events, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge events config: %w", err)
		}
	}
	if events.Backend == "" {
		events.Backend = EventBackendLog
	}

	retention := DefaultRetentionConfig()
	if user.Retention != nil {
		if err := mergo.Merge(retention, user.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	return &Config{
		configDir:  configDir,
		Escalation: escalation,
		Keywords:   keywords,
		Intents:    intents,
		Responder:  responder,
		Delivery:   delivery,
		Events:     events,
		Retention:  retention,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv passes through original data on template errors,
	// leaving the YAML parser to report the problem.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadOmnideskYAML() (*OmnideskYAMLConfig, error) {
	var config OmnideskYAMLConfig
	if err := l.loadYAML(ConfigFile, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
