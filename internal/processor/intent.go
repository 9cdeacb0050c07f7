package processor

import (
	"regexp"
	"strings"
)

// Intent is the closed classification of a question's business meaning
type Intent int

const (
	IntentGeneric Intent = iota
	IntentTotalSales
	IntentROAS
	IntentCPCHighest
	IntentCPC
	IntentTopProducts
	IntentConversionRate
	IntentEligibility
)

var intentNames = map[Intent]string{
	IntentGeneric:        "generic",
	IntentTotalSales:     "total_sales",
	IntentROAS:           "roas",
	IntentCPCHighest:     "cpc_highest",
	IntentCPC:            "cpc",
	IntentTopProducts:    "top_products",
	IntentConversionRate: "conversion_rate",
	IntentEligibility:    "eligibility",
}

// String returns the wire name of the intent
func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the intent by name
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes an intent name; unknown names map to generic
func (i *Intent) UnmarshalText(text []byte) error {
	for intent, name := range intentNames {
		if name == string(text) {
			*i = intent
			return nil
		}
	}
	*i = IntentGeneric
	return nil
}

// highStakesIntents must always be answered by the planner
var highStakesIntents = map[Intent]bool{
	IntentTotalSales:     true,
	IntentROAS:           true,
	IntentCPCHighest:     true,
	IntentCPC:            true,
	IntentTopProducts:    true,
	IntentConversionRate: true,
}

// HighStakes reports whether the intent bypasses generation
func (i Intent) HighStakes() bool {
	return highStakesIntents[i]
}

var (
	reTotalSales  = regexp.MustCompile(`(?i)\btotal\s+sales\b`)
	reROAS        = regexp.MustCompile(`(?i)\b(roas|return\s+on\s+ad\s+spend)\b`)
	reCPC         = regexp.MustCompile(`(?i)\b(cpc|cost\s+per\s+click)\b`)
	reHighest     = regexp.MustCompile(`(?i)\bhighest\b`)
	reTop         = regexp.MustCompile(`(?i)\btop\b`)
	reProduct     = regexp.MustCompile(`(?i)\b(products?|items?)\b`)
	reConversion  = regexp.MustCompile(`(?i)\bconversion\s+rates?\b`)
	reEligibility = regexp.MustCompile(`(?i)\b(eligible|eligibility)\b`)
)

type intentRule struct {
	intent Intent
	match  func(q string) bool
}

// intentRules are evaluated in order; the first match wins
var intentRules = []intentRule{
	{IntentTotalSales, reTotalSales.MatchString},
	{IntentROAS, reROAS.MatchString},
	{IntentCPCHighest, func(q string) bool { return reCPC.MatchString(q) && reHighest.MatchString(q) }},
	{IntentCPC, reCPC.MatchString},
	{IntentTopProducts, func(q string) bool { return reTop.MatchString(q) && reProduct.MatchString(q) }},
	{IntentConversionRate, reConversion.MatchString},
	{IntentEligibility, reEligibility.MatchString},
}

// IntentClassifier maps questions onto intents with whole-word matching
type IntentClassifier struct {
	rules []intentRule
}

// NewIntentClassifier creates a new intent classifier
func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{rules: intentRules}
}

// Classify returns exactly one intent for the question
func (ic *IntentClassifier) Classify(question string) Intent {
	q := strings.ToLower(question)
	for _, rule := range ic.rules {
		if rule.match(q) {
			return rule.intent
		}
	}
	return IntentGeneric
}
