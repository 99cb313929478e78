package config

import "sync"

// BuiltinConfig holds the defaults shipped with the binary.
// User YAML is merged on top of these values.
type BuiltinConfig struct {
	Keywords KeywordLists
	Intents  []IntentRule
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Keywords: KeywordLists{
			Escalation: []string{
				"speak to human",
				"talk to human",
				"real person",
				"human agent",
				"customer service",
				"manager",
				"supervisor",
				"complaint",
				"refund",
				"cancel subscription",
				"legal",
				"lawyer",
			},
			NegativeSentiment: []string{
				"angry",
				"frustrated",
				"disappointed",
				"terrible",
				"awful",
				"horrible",
				"worst",
				"hate",
				"useless",
				"ridiculous",
				"unacceptable",
				"scam",
			},
			PositiveSentiment: []string{
				"thank",
				"great",
				"excellent",
				"awesome",
				"amazing",
				"perfect",
				"love",
				"helpful",
				"happy",
				"good",
			},
		},
		Intents: []IntentRule{
			{Intent: "refund_request", Keywords: []string{"refund", "money back"}},
			{Intent: "legal_inquiry", Keywords: []string{"lawyer", "lawsuit", "legal action"}},
			{Intent: "billing_dispute", Keywords: []string{"charged twice", "double charge", "wrong charge", "overcharged"}},
			{Intent: "complaint", Keywords: []string{"complain", "complaint"}},
			{Intent: "support", Keywords: []string{"help", "problem", "issue", "error", "not working", "broken"}},
			{Intent: "billing_question", Keywords: []string{"bill", "invoice", "payment", "charge"}},
			{Intent: "purchase_inquiry", Keywords: []string{"buy", "purchase", "price", "order"}},
			{Intent: "compliment", Keywords: []string{"thank", "great", "awesome", "excellent"}},
		},
	}
}

// cloneIntents returns a deep copy of rules so callers never share
// the built-in backing arrays.
func cloneIntents(rules []IntentRule) []IntentRule {
	out := make([]IntentRule, len(rules))
	for i, r := range rules {
		out[i] = IntentRule{Intent: r.Intent, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}
