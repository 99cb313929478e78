// Package classifier assigns keyword-based sentiment and intent to message text.
package classifier

import (
	"math"
	"strings"

	"golang.org/x/text/cases"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/models"
)

const (
	neutralScore = 0.5
	scoreStep    = 0.1
)

// Result is the classifier output for one text.
type Result struct {
	Sentiment    models.Sentiment
	Score        float64
	NegativeHits int
	PositiveHits int
}

type intentRule struct {
	intent   string
	keywords []string
}

// Classifier matches text against folded keyword lists.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	escalation []string
	negative   []string
	positive   []string
	intents    []intentRule
	fallback   string
}

// New builds a Classifier from configured keyword lists and intent rules.
func New(keywords config.KeywordLists, intents []config.IntentRule) *Classifier {
	c := &Classifier{
		escalation: foldAll(keywords.Escalation),
		negative:   foldAll(keywords.NegativeSentiment),
		positive:   foldAll(keywords.PositiveSentiment),
		fallback:   config.FallbackIntent,
	}
	for _, r := range intents {
		c.intents = append(c.intents, intentRule{intent: r.Intent, keywords: foldAll(r.Keywords)})
	}
	return c
}

// FromConfig builds a Classifier from the loaded configuration.
func FromConfig(cfg *config.Config) *Classifier {
	return New(*cfg.Keywords, cfg.Intents)
}

// Classify returns the sentiment polarity, score and keyword hit counts for text.
// Each keyword counts at most once regardless of how often it occurs.
func (c *Classifier) Classify(text string) Result {
	folded := fold(text)
	neg := countHits(folded, c.negative)
	pos := countHits(folded, c.positive)

	res := Result{
		Sentiment:    models.SentimentNeutral,
		Score:        neutralScore,
		NegativeHits: neg,
		PositiveHits: pos,
	}
	switch {
	case pos > neg:
		res.Sentiment = models.SentimentPositive
		res.Score = math.Min(1, neutralScore+scoreStep*float64(pos))
	case neg > pos:
		res.Sentiment = models.SentimentNegative
		res.Score = math.Max(0, neutralScore-scoreStep*float64(neg))
	}
	res.Score = math.Round(res.Score*100) / 100
	return res
}

// EscalationKeywords returns the configured escalation keywords found in text,
// in configuration order.
func (c *Classifier) EscalationKeywords(text string) []string {
	folded := fold(text)
	var found []string
	for _, kw := range c.escalation {
		if strings.Contains(folded, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// NegativeHits returns the number of distinct negative keywords in text.
func (c *Classifier) NegativeHits(text string) int {
	return countHits(fold(text), c.negative)
}

// IntentOf returns the intent of the first rule with a keyword in text,
// or general_inquiry when none match.
func (c *Classifier) IntentOf(text string) string {
	folded := fold(text)
	for _, r := range c.intents {
		for _, kw := range r.keywords {
			if strings.Contains(folded, kw) {
				return r.intent
			}
		}
	}
	return c.fallback
}

func countHits(folded string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(folded, kw) {
			n++
		}
	}
	return n
}

// fold applies Unicode case folding. A cases.Caser is stateful, so one is
// created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func foldAll(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		f := fold(strings.TrimSpace(w))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
