package processor

import (
	"regexp"
	"strings"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
)

type (
	ResultSet = database.ResultSet
	Row       = database.Row
)

// ShapeKind is the presentation family of a result set
type ShapeKind string

const (
	ShapeSingleAggregate    ShapeKind = "single-aggregate"
	ShapeCategoricalRanking ShapeKind = "categorical-ranking"
	ShapeTimeSeries         ShapeKind = "time-series"
	ShapeCorrelation        ShapeKind = "multi-metric-correlation"
)

// ResultShape is derived from a result set on every request and never stored
type ResultShape struct {
	Kind ShapeKind `json:"kind"`
	// Proportion marks the share-of-total variant of categorical-ranking
	Proportion bool `json:"proportion,omitempty"`
}

// maxProportionRows is the largest ranking still shown as shares of a whole
const maxProportionRows = 6

var (
	rankingWords    = regexp.MustCompile(`(?i)\b(top|highest|lowest|compare|distribution)\b`)
	proportionWords = regexp.MustCompile(`(?i)\b(percentage|proportion|share|breakdown)\b`)
)

// ShapeClassifier picks a presentation shape from column names, value types
// and the wording of the question
type ShapeClassifier struct{}

// NewShapeClassifier creates a new shape classifier
func NewShapeClassifier() *ShapeClassifier {
	return &ShapeClassifier{}
}

// Classify returns false for an empty result set
func (sc *ShapeClassifier) Classify(question string, rows ResultSet) (ResultShape, bool) {
	if rows.Empty() {
		return ResultShape{}, false
	}

	columns := rows.ColumnNames()

	if rows.Len() > 1 && hasDateColumn(columns) {
		return ResultShape{Kind: ShapeTimeSeries}, true
	}

	if rankingWords.MatchString(question) {
		return ResultShape{
			Kind:       ShapeCategoricalRanking,
			Proportion: rows.Len() <= maxProportionRows,
		}, true
	}

	if proportionWords.MatchString(question) {
		return ResultShape{Kind: ShapeCategoricalRanking, Proportion: true}, true
	}

	if len(columns) >= 3 && len(numericColumns(rows, columns)) >= 2 {
		return ResultShape{Kind: ShapeCorrelation}, true
	}

	if rows.Len() == 1 && len(columns) == 1 {
		return ResultShape{Kind: ShapeSingleAggregate}, true
	}

	return ResultShape{Kind: ShapeCategoricalRanking}, true
}

func hasDateColumn(columns []string) bool {
	for _, c := range columns {
		if isDateName(c) {
			return true
		}
	}
	return false
}

func isDateName(column string) bool {
	lower := strings.ToLower(column)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time")
}

// numericColumns returns, in column order, the columns whose non-null values
// are all numbers. A column with only nulls is not numeric.
func numericColumns(rows ResultSet, columns []string) []string {
	var numeric []string
	for _, c := range columns {
		if isNumericColumn(rows, c) {
			numeric = append(numeric, c)
		}
	}
	return numeric
}

func isNumericColumn(rows ResultSet, column string) bool {
	seen := false
	for _, row := range rows.Rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		if _, ok := toFloat(v); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// toFloat converts numeric scalars; strings and booleans are not numbers
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
