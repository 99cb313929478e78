package config

// KeywordLists holds the operator-tunable keyword lists.
// Matching is case-insensitive substring matching, so entries may be
// phrases ("speak to human") as well as single words.
type KeywordLists struct {
	Escalation        []string `yaml:"escalation"`
	NegativeSentiment []string `yaml:"negative_sentiment"`
	PositiveSentiment []string `yaml:"positive_sentiment"`
}

// IntentRule assigns Intent when any of Keywords occurs in a message.
// Rules are evaluated in order; the first match wins.
type IntentRule struct {
	Intent   string   `yaml:"intent" validate:"required"`
	Keywords []string `yaml:"keywords" validate:"required,min=1,dive,required"`
}

// FallbackIntent is assigned when no intent rule matches.
const FallbackIntent = "general_inquiry"
