package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg     *Config
	structs *validator.Validate
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report YAML field names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &ConfigValidator{cfg: cfg, structs: v}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateEscalation(); err != nil {
		return fmt.Errorf("escalation validation failed: %w", err)
	}

	if err := v.validateKeywords(); err != nil {
		return fmt.Errorf("keyword validation failed: %w", err)
	}

	if err := v.validateIntents(); err != nil {
		return fmt.Errorf("intent validation failed: %w", err)
	}

	if err := v.validateResponder(); err != nil {
		return fmt.Errorf("responder validation failed: %w", err)
	}

	if err := v.validateDelivery(); err != nil {
		return fmt.Errorf("delivery validation failed: %w", err)
	}

	if err := v.validateEvents(); err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateEscalation() error {
	esc := v.cfg.Escalation
	if esc == nil {
		return NewValidationError("escalation", "", "", ErrMissingRequiredField)
	}
	if err := v.checkStruct("escalation", "", esc); err != nil {
		return err
	}
	if esc.FailedResponseWindow <= 0 {
		return NewValidationError("escalation", "", "failed_response_window",
			fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, esc.FailedResponseWindow))
	}
	for priority := range esc.Routing {
		if !priority.IsValid() {
			return NewValidationError("escalation", string(priority), "routing",
				fmt.Errorf("%w: unknown priority (want %s, %s or %s)", ErrInvalidValue,
					models.PriorityNormal, models.PriorityMedium, models.PriorityHigh))
		}
	}
	for i, intent := range esc.ComplexIntents {
		if strings.TrimSpace(intent) == "" {
			return NewValidationError("escalation", fmt.Sprintf("complex_intents[%d]", i), "", ErrMissingRequiredField)
		}
	}
	return nil
}

func (v *ConfigValidator) validateKeywords() error {
	kw := v.cfg.Keywords
	if kw == nil {
		return NewValidationError("keywords", "", "", ErrMissingRequiredField)
	}
	lists := map[string][]string{
		"escalation":         kw.Escalation,
		"negative_sentiment": kw.NegativeSentiment,
		"positive_sentiment": kw.PositiveSentiment,
	}
	for name, list := range lists {
		for i, word := range list {
			if strings.TrimSpace(word) == "" {
				return NewValidationError("keywords", name, fmt.Sprintf("[%d]", i),
					fmt.Errorf("%w: empty keyword", ErrInvalidValue))
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateIntents() error {
	seen := make(map[string]bool, len(v.cfg.Intents))
	for i := range v.cfg.Intents {
		rule := &v.cfg.Intents[i]
		if err := v.checkStruct("intent", rule.Intent, rule); err != nil {
			return err
		}
		if seen[rule.Intent] {
			return NewValidationError("intent", rule.Intent, "intent",
				fmt.Errorf("%w: duplicate intent rule", ErrInvalidValue))
		}
		seen[rule.Intent] = true
	}
	return nil
}

func (v *ConfigValidator) validateResponder() error {
	r := v.cfg.Responder
	if r == nil {
		return NewValidationError("responder", "", "", ErrMissingRequiredField)
	}
	if err := v.checkStruct("responder", r.Address, r); err != nil {
		return err
	}
	if r.Timeout <= 0 {
		return NewValidationError("responder", r.Address, "timeout",
			fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, r.Timeout))
	}
	return nil
}

func (v *ConfigValidator) validateDelivery() error {
	d := v.cfg.Delivery
	if d == nil || d.WAHA == nil {
		return nil
	}
	if d.WAHA.BaseURL != "" {
		u, err := url.Parse(d.WAHA.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return NewValidationError("delivery", "waha", "base_url",
				fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, d.WAHA.BaseURL))
		}
	}
	if d.WAHA.Timeout <= 0 {
		return NewValidationError("delivery", "waha", "timeout",
			fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, d.WAHA.Timeout))
	}
	return nil
}

func (v *ConfigValidator) validateEvents() error {
	e := v.cfg.Events
	if e == nil {
		return NewValidationError("events", "", "", ErrMissingRequiredField)
	}
	if !e.Backend.IsValid() {
		return NewValidationError("events", string(e.Backend), "backend",
			fmt.Errorf("%w: unknown backend", ErrInvalidValue))
	}
	switch e.Backend {
	case EventBackendRedis:
		if e.Redis == nil || e.Redis.Addr == "" {
			return NewValidationError("events", "redis", "addr", ErrMissingRequiredField)
		}
	case EventBackendKafka:
		if e.Kafka == nil || len(e.Kafka.Brokers) == 0 {
			return NewValidationError("events", "kafka", "brokers", ErrMissingRequiredField)
		}
		if e.Kafka.Topic == "" {
			return NewValidationError("events", "kafka", "topic", ErrMissingRequiredField)
		}
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r == nil {
		return NewValidationError("retention", "", "", ErrMissingRequiredField)
	}
	if err := v.checkStruct("retention", "", r); err != nil {
		return err
	}
	if r.Enabled() && r.IdleSessionTimeout < time.Minute {
		return NewValidationError("retention", "", "idle_session_timeout",
			fmt.Errorf("%w: must be at least 1m, got %s", ErrInvalidValue, r.IdleSessionTimeout))
	}
	return nil
}

// checkStruct runs struct-tag validation and converts the first failure
// into a ValidationError.
func (v *ConfigValidator) checkStruct(component, id string, s any) error {
	err := v.structs.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(component, id, fe.Field(),
			fmt.Errorf("%w: failed %q constraint (value %v)", ErrInvalidValue, fe.Tag(), fe.Value()))
	}
	return NewValidationError(component, id, "", err)
}
