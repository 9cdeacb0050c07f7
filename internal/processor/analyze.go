package processor

import (
	"regexp"
	"strings"
)

// Performance estimates derived from the complexity score
const (
	PerformanceFast   = "Fast"
	PerformanceMedium = "Medium"
	PerformanceSlow   = "Slow"
)

const maxComplexityScore = 10

var (
	reJoin       = regexp.MustCompile(`(?i)\bJOIN\b`)
	reGroupBy    = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	reOrderBy    = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	reHaving     = regexp.MustCompile(`(?i)\bHAVING\b`)
	reSubquery   = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	reSelectStar = regexp.MustCompile(`(?i)\bSELECT\s+\*`)
	reLimit      = regexp.MustCompile(`(?i)\bLIMIT\b`)

	reTrendWords = regexp.MustCompile(`(?i)\b(trends?|over\s+time|monthly|daily)\b`)
	reBarWords   = regexp.MustCompile(`(?i)\b(top|highest|lowest)\b`)
	rePieWords   = regexp.MustCompile(`(?i)\b(percentage|proportion|breakdown)\b`)
)

// ChartRecommendation suggests a chart for a question before it is run
type ChartRecommendation struct {
	Type   ChartType `json:"type"`
	Reason string    `json:"reason"`
}

// SQLAnalysis is a static review of a query
type SQLAnalysis struct {
	Question             string              `json:"original_question,omitempty"`
	SQL                  string              `json:"generated_sql"`
	Source               Source              `json:"sql_source,omitempty"`
	ComplexityScore      int                 `json:"complexity_score"`
	EstimatedPerformance string              `json:"estimated_performance"`
	Suggestions          []string            `json:"suggestions"`
	ChartRecommendation  ChartRecommendation `json:"chart_recommendations"`
	Validation           ValidationResult    `json:"validation"`
}

// ComplexityScore weighs joins, grouping, ordering, HAVING, subqueries and
// length, capped at 10
func ComplexityScore(sql string) int {
	score := len(reJoin.FindAllStringIndex(sql, -1)) * 2
	score += len(reSubquery.FindAllStringIndex(sql, -1)) * 3
	score += len(reGroupBy.FindAllStringIndex(sql, -1))
	score += len(reOrderBy.FindAllStringIndex(sql, -1))
	score += len(reHaving.FindAllStringIndex(sql, -1)) * 2
	score += len(sql) / 100
	if score > maxComplexityScore {
		return maxComplexityScore
	}
	return score
}

// EstimatePerformance buckets a complexity score
func EstimatePerformance(score int) string {
	switch {
	case score <= 2:
		return PerformanceFast
	case score <= 5:
		return PerformanceMedium
	default:
		return PerformanceSlow
	}
}

// OptimizationSuggestions lists cheap improvements for a query
func OptimizationSuggestions(sql string) []string {
	suggestions := []string{}
	if reSelectStar.MatchString(sql) {
		suggestions = append(suggestions, "Consider selecting specific columns instead of SELECT *")
	}
	if reOrderBy.MatchString(sql) && !reLimit.MatchString(sql) {
		suggestions = append(suggestions, "Consider adding LIMIT clause for large result sets")
	}
	if len(reJoin.FindAllStringIndex(sql, -1)) > 2 {
		suggestions = append(suggestions, "Multiple JOINs detected - ensure proper indexing")
	}
	return suggestions
}

// RecommendChart picks a chart type from the question wording alone
func RecommendChart(question string) ChartRecommendation {
	switch {
	case reBarWords.MatchString(question):
		return ChartRecommendation{Type: ChartBar, Reason: "Best for comparing ranked items"}
	case rePieWords.MatchString(question):
		return ChartRecommendation{Type: ChartPie, Reason: "Best for showing proportions"}
	case reTrendWords.MatchString(question):
		return ChartRecommendation{Type: ChartLine, Reason: "Best for showing trends over time"}
	default:
		return ChartRecommendation{Type: ChartBar, Reason: "Default for general comparisons"}
	}
}

// AnalyzeSQL reviews sql without executing it
func AnalyzeSQL(question, sql string, validator *SafetyValidator) SQLAnalysis {
	score := ComplexityScore(sql)
	analysis := SQLAnalysis{
		Question:             strings.TrimSpace(question),
		SQL:                  sql,
		ComplexityScore:      score,
		EstimatedPerformance: EstimatePerformance(score),
		Suggestions:          OptimizationSuggestions(sql),
		ChartRecommendation:  RecommendChart(question),
	}
	if validator != nil {
		analysis.Validation = validator.Validate(sql)
	}
	return analysis
}
