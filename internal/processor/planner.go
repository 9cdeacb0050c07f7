package processor

import "strings"

// Source records where a candidate query came from
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// CandidateSQL is a query awaiting validation and execution
type CandidateSQL struct {
	SQL    string `json:"sql"`
	Source Source `json:"source"`
	Intent Intent `json:"intent"`
}

// planTemplates holds one parameterless aggregate per intent. Every ratio
// guards its denominator with NULLIF.
var planTemplates = map[Intent]string{
	IntentTotalSales: `SELECT SUM(total_sales) AS total_sales FROM total_sales_metrics`,

	IntentROAS: `SELECT
    SUM(ad_sales) / NULLIF(SUM(ad_spend), 0) AS roas,
    SUM(ad_sales) AS total_ad_sales,
    SUM(ad_spend) AS total_ad_spend,
    COUNT(DISTINCT item_id) AS products_with_ads
FROM ad_sales_metrics
WHERE ad_spend > 0`,

	IntentCPCHighest: `SELECT
    item_id,
    SUM(ad_spend) / NULLIF(SUM(clicks), 0) AS cpc,
    SUM(ad_spend) AS total_spend,
    SUM(clicks) AS total_clicks
FROM ad_sales_metrics
WHERE clicks > 0
GROUP BY item_id
ORDER BY cpc DESC
LIMIT 1`,

	IntentCPC: `SELECT
    item_id,
    SUM(ad_spend) / NULLIF(SUM(clicks), 0) AS cpc,
    SUM(ad_spend) AS total_spend,
    SUM(clicks) AS total_clicks
FROM ad_sales_metrics
WHERE clicks > 0
GROUP BY item_id
ORDER BY cpc DESC
LIMIT 10`,

	IntentTopProducts: `SELECT
    item_id,
    SUM(total_sales) AS total_sales,
    SUM(total_units_ordered) AS total_units
FROM total_sales_metrics
GROUP BY item_id
ORDER BY total_sales DESC
LIMIT 10`,

	IntentConversionRate: `SELECT
    item_id,
    (SUM(units_sold) * 100.0) / NULLIF(SUM(clicks), 0) AS conversion_rate,
    SUM(units_sold) AS total_units_sold,
    SUM(clicks) AS total_clicks
FROM ad_sales_metrics
WHERE clicks > 0
GROUP BY item_id
ORDER BY conversion_rate DESC
LIMIT 10`,

	IntentEligibility: `SELECT
    CASE WHEN eligibility THEN 'Eligible' ELSE 'Not Eligible' END AS category,
    COUNT(DISTINCT item_id) AS count,
    ROUND(COUNT(DISTINCT item_id) * 100.0 / NULLIF((SELECT COUNT(DISTINCT item_id) FROM product_eligibility), 0), 2) AS percentage
FROM product_eligibility
GROUP BY eligibility
ORDER BY eligibility DESC`,

	IntentGeneric: `SELECT COUNT(*) AS total_records FROM total_sales_metrics`,
}

// Planner answers questions with fixed templates. It never fails.
type Planner struct {
	classifier *IntentClassifier
}

// NewPlanner creates a planner using the given classifier
func NewPlanner(classifier *IntentClassifier) *Planner {
	if classifier == nil {
		classifier = NewIntentClassifier()
	}
	return &Planner{classifier: classifier}
}

// Plan returns the template query for the question's intent
func (p *Planner) Plan(question string) CandidateSQL {
	return p.PlanIntent(p.classifier.Classify(question))
}

// PlanIntent returns the template query for an already classified intent
func (p *Planner) PlanIntent(intent Intent) CandidateSQL {
	sql, ok := planTemplates[intent]
	if !ok {
		intent = IntentGeneric
		sql = planTemplates[IntentGeneric]
	}
	return CandidateSQL{
		SQL:    strings.TrimSpace(sql),
		Source: SourceFallback,
		Intent: intent,
	}
}

// Classify exposes the planner's intent classification
func (p *Planner) Classify(question string) Intent {
	return p.classifier.Classify(question)
}
