package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	maxListedResults = 10
	noDataFormat     = "No data found for your question: '%s'"
)

var printer = message.NewPrinter(language.English)

// templateFunc renders rows for one intent. It returns false when the rows
// do not carry the fields the template needs.
type templateFunc func(rows ResultSet) (string, bool)

// Formatter renders deterministic narratives. It never panics on missing
// or mistyped fields; they render as zero.
type Formatter struct {
	classifier *IntentClassifier
	templates  map[Intent]templateFunc
}

// NewFormatter creates a formatter that classifies with the given classifier
func NewFormatter(classifier *IntentClassifier) *Formatter {
	if classifier == nil {
		classifier = NewIntentClassifier()
	}
	return &Formatter{
		classifier: classifier,
		templates: map[Intent]templateFunc{
			IntentTotalSales:     formatTotalSales,
			IntentROAS:           formatROAS,
			IntentCPCHighest:     formatHighestCPC,
			IntentCPC:            formatCPCList,
			IntentTopProducts:    formatTopProducts,
			IntentConversionRate: formatConversion,
			IntentEligibility:    formatEligibility,
		},
	}
}

// Format renders rows as prose for the question
func (f *Formatter) Format(question string, rows ResultSet) string {
	return f.FormatIntent(f.classifier.Classify(question), question, rows)
}

// FormatIntent renders rows for an already classified intent
func (f *Formatter) FormatIntent(intent Intent, question string, rows ResultSet) string {
	if rows.Empty() {
		return NoDataMessage(question)
	}
	if tmpl, ok := f.templates[intent]; ok {
		if text, ok := tmpl(rows); ok {
			return text
		}
	}
	return formatGeneric(rows)
}

// NoDataMessage is the narrative for an empty result
func NoDataMessage(question string) string {
	return fmt.Sprintf(noDataFormat, question)
}

func formatTotalSales(rows ResultSet) (string, bool) {
	row := rows.Rows[0]
	key, ok := firstKey(row, "total_sales", "total_sales_amount", "sales")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Your total sales amount to %s across all products and time periods.",
		FormatCurrency(number(row[key]))), true
}

func formatROAS(rows ResultSet) (string, bool) {
	row := rows.Rows[0]
	if _, ok := row["roas"]; !ok {
		return "", false
	}
	return fmt.Sprintf("Your Return on Ad Spend (ROAS) is %.2fx. You've generated %s in ad sales from %s in ad spend across %s products.",
		number(row["roas"]),
		FormatCurrency(number(row["total_ad_sales"])),
		FormatCurrency(number(row["total_ad_spend"])),
		FormatCount(number(row["products_with_ads"])),
	), true
}

func formatHighestCPC(rows ResultSet) (string, bool) {
	row := rows.Rows[0]
	if _, ok := row["cpc"]; !ok {
		return "", false
	}
	return fmt.Sprintf("Product %s has the highest Cost Per Click at %s. This product spent %s and received %s clicks.",
		itemLabel(row),
		FormatCurrency(number(row["cpc"])),
		FormatCurrency(number(row["total_spend"])),
		FormatCount(number(row["total_clicks"])),
	), true
}

func formatCPCList(rows ResultSet) (string, bool) {
	if _, ok := rows.Rows[0]["cpc"]; !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("Products with the highest Cost Per Click (CPC):")
	for i, row := range capRows(rows.Rows) {
		fmt.Fprintf(&sb, "\n%d. Product %s: %s CPC (%s spend, %s clicks)",
			i+1,
			itemLabel(row),
			FormatCurrency(number(row["cpc"])),
			FormatCurrency(number(row["total_spend"])),
			FormatCount(number(row["total_clicks"])),
		)
	}
	return sb.String(), true
}

func formatTopProducts(rows ResultSet) (string, bool) {
	first := rows.Rows[0]
	salesKey, ok := firstKey(first, "total_sales", "total_sales_amount", "sales")
	if !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("Top products by sales:")
	for i, row := range capRows(rows.Rows) {
		fmt.Fprintf(&sb, "\n%d. Product %s: %s", i+1, itemLabel(row), FormatCurrency(number(row[salesKey])))
		if unitsKey, ok := firstKey(row, "total_units", "total_units_ordered"); ok {
			fmt.Fprintf(&sb, " (%s units)", FormatCount(number(row[unitsKey])))
		}
	}
	return sb.String(), true
}

func formatConversion(rows ResultSet) (string, bool) {
	if _, ok := rows.Rows[0]["conversion_rate"]; !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("Products with the best conversion rates:")
	for i, row := range capRows(rows.Rows) {
		fmt.Fprintf(&sb, "\n%d. Product %s: %s (%s units from %s clicks)",
			i+1,
			itemLabel(row),
			FormatPercent(number(row["conversion_rate"])),
			FormatCount(number(row["total_units_sold"])),
			FormatCount(number(row["total_clicks"])),
		)
	}
	return sb.String(), true
}

func formatEligibility(rows ResultSet) (string, bool) {
	if _, ok := rows.Rows[0]["count"]; !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("Product advertising eligibility:")
	total := 0.0
	for _, row := range rows.Rows {
		count := number(row["count"])
		total += count
		status := "Unknown"
		if c, ok := row["category"].(string); ok && c != "" {
			status = c
		} else if e, ok := row["eligibility"].(bool); ok {
			status = "Not Eligible"
			if e {
				status = "Eligible"
			}
		}
		fmt.Fprintf(&sb, "\n• %s: %s products (%s)", status, FormatCount(count), FormatPercent(number(row["percentage"])))
	}
	fmt.Fprintf(&sb, "\nTotal products analyzed: %s", FormatCount(total))
	return sb.String(), true
}

func formatGeneric(rows ResultSet) string {
	columns := rows.ColumnNames()
	var sb strings.Builder

	if rows.Len() == 1 {
		sb.WriteString("Query results:")
		row := rows.Rows[0]
		for _, key := range columns {
			fmt.Fprintf(&sb, "\n• %s: %s", humanize(key), formatField(key, row[key]))
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "Found %d results:", rows.Len())
	for i, row := range capRows(rows.Rows) {
		parts := make([]string, 0, len(columns))
		for _, key := range columns {
			parts = append(parts, fmt.Sprintf("%s: %s", key, formatField(key, row[key])))
		}
		fmt.Fprintf(&sb, "\n%d. %s", i+1, strings.Join(parts, ", "))
	}
	if rows.Len() > maxListedResults {
		fmt.Fprintf(&sb, "\n... and %d more", rows.Len()-maxListedResults)
	}
	return sb.String()
}

// formatField picks currency, percent or plain rendering from the column name
func formatField(key string, v interface{}) string {
	n, numeric := toFloat(v)
	if !numeric {
		if v == nil {
			return "N/A"
		}
		return formatLabel(v)
	}
	lower := strings.ToLower(key)
	switch {
	case containsAny(lower, []string{"sales", "spend", "revenue", "cpc", "cost", "price"}):
		return FormatCurrency(n)
	case containsAny(lower, []string{"rate", "percentage"}):
		return FormatPercent(n)
	case lower == "item_id" || lower == "product_id":
		return formatLabel(v)
	}
	if _, isInt := v.(int64); isInt || n == math.Trunc(n) {
		return FormatCount(n)
	}
	return strconv.FormatFloat(n, 'f', 2, 64)
}

func capRows(rows []Row) []Row {
	if len(rows) > maxListedResults {
		return rows[:maxListedResults]
	}
	return rows
}

func firstKey(row Row, keys ...string) (string, bool) {
	for _, k := range keys {
		if _, ok := row[k]; ok {
			return k, true
		}
	}
	return "", false
}

func itemLabel(row Row) string {
	if v, ok := row["item_id"]; ok && v != nil {
		return formatLabel(v)
	}
	return "Unknown"
}

// number reads a numeric field, treating missing and non-numeric values as 0
func number(v interface{}) float64 {
	n, _ := toFloat(v)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return n
}

// FormatCurrency renders $1,234.56
func FormatCurrency(v float64) string {
	if v < 0 {
		return "-" + printer.Sprintf("$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// FormatPercent renders 12.34%
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

// FormatCount renders 1,234, rounding to the nearest integer
func FormatCount(v float64) string {
	r := math.Round(v)
	if r == 0 {
		r = 0 // drops negative zero
	}
	return printer.Sprintf("%.0f", r)
}
