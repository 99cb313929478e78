package config

// Config is the umbrella configuration object returned by Initialize().
// It is loaded once at process start; hot reload is not supported.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Escalation thresholds and routing
	Escalation *EscalationConfig

	// Keyword lists used by the classifier and the keyword trigger
	Keywords *KeywordLists

	// Ordered keyword rules for the intent heuristic
	Intents []IntentRule

	// External collaborators
	Responder *ResponderConfig
	Delivery  *DeliveryConfig
	Events    *EventsConfig

	// Idle session cleanup
	Retention *RetentionConfig
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	EscalationKeywords int `json:"escalation_keywords"`
	NegativeKeywords   int `json:"negative_keywords"`
	PositiveKeywords   int `json:"positive_keywords"`
	IntentRules        int `json:"intent_rules"`
	RoutingRules       int `json:"routing_rules"`
}

// Stats returns configuration statistics for logging
func (c *Config) Stats() Stats {
	s := Stats{IntentRules: len(c.Intents)}
	if c.Keywords != nil {
		s.EscalationKeywords = len(c.Keywords.Escalation)
		s.NegativeKeywords = len(c.Keywords.NegativeSentiment)
		s.PositiveKeywords = len(c.Keywords.PositiveSentiment)
	}
	if c.Escalation != nil {
		s.RoutingRules = len(c.Escalation.Routing)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
