package processor

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ChartType is the rendering hint handed to the frontend
type ChartType string

const (
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartBar     ChartType = "bar"
	ChartScatter ChartType = "scatter"
)

const DefaultMaxChartItems = 20

// Palette is the fixed series color cycle
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// ChartPoint is one rendered (label, value) pair
type ChartPoint struct {
	Label      string                 `json:"label"`
	Value      float64                `json:"value"`
	ColorIndex int                    `json:"color_index"`
	Color      string                 `json:"color"`
	Percentage *float64               `json:"percentage,omitempty"`
	ItemName   string                 `json:"item_name,omitempty"`
	Extra      map[string]interface{} `json:"additional_info,omitempty"`
}

// ChartSpec describes how to draw one result set
type ChartSpec struct {
	Shape          ResultShape  `json:"shape"`
	Type           ChartType    `json:"type"`
	Title          string       `json:"title"`
	LabelColumn    string       `json:"label_column"`
	ValueColumn    string       `json:"value_column"`
	DateColumn     string       `json:"date_column,omitempty"`
	NumericColumns []string     `json:"numeric_columns,omitempty"`
	Points         []ChartPoint `json:"data"`
	Total          float64      `json:"total,omitempty"`
	Truncated      bool         `json:"truncated,omitempty"`
}

// Labels returns the point labels in order
func (cs *ChartSpec) Labels() []string {
	labels := make([]string, len(cs.Points))
	for i, p := range cs.Points {
		labels[i] = p.Label
	}
	return labels
}

// Values returns the point values in order
func (cs *ChartSpec) Values() []float64 {
	values := make([]float64, len(cs.Points))
	for i, p := range cs.Points {
		values[i] = p.Value
	}
	return values
}

var (
	labelExact      = []string{"item_id", "product_id", "name", "title", "category"}
	labelTokens     = []string{"id", "name", "title", "category", "item"}
	valueExact      = []string{"total_sales", "ad_sales", "ad_spend", "sales", "revenue", "amount", "value", "count", "roas", "cpc"}
	valueTokens     = []string{"sales", "revenue", "spend", "cost", "price", "total", "count"}
	dateExact       = []string{"date", "datetime", "time", "timestamp", "eligibility_datetime_utc"}
	itemNameColumns = []string{"product_name", "item_name", "name", "title", "description"}

	dateLayouts = []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006-01",
	}
)

// Binder maps a result set onto a chart specification. It holds no per
// request state, so the same inputs always give the same spec.
type Binder struct {
	maxItems int
}

// NewBinder creates a binder capping ranking charts at maxItems points. A
// non-positive value uses DefaultMaxChartItems.
func NewBinder(maxItems int) *Binder {
	if maxItems <= 0 {
		maxItems = DefaultMaxChartItems
	}
	return &Binder{maxItems: maxItems}
}

// Bind returns nil when rows is empty or no usable label or value column
// exists
func (b *Binder) Bind(shape ResultShape, question string, rows ResultSet) *ChartSpec {
	if rows.Empty() {
		return nil
	}
	columns := rows.ColumnNames()
	if len(columns) == 0 {
		return nil
	}

	switch shape.Kind {
	case ShapeSingleAggregate:
		return b.bindSingle(shape, question, rows, columns)
	case ShapeTimeSeries:
		if spec := b.bindTimeSeries(shape, question, rows, columns); spec != nil {
			return spec
		}
		return b.bindRanking(ResultShape{Kind: ShapeCategoricalRanking}, question, rows, columns)
	case ShapeCorrelation:
		return b.bindCorrelation(shape, question, rows, columns)
	default:
		return b.bindRanking(shape, question, rows, columns)
	}
}

func (b *Binder) bindSingle(shape ResultShape, question string, rows ResultSet, columns []string) *ChartSpec {
	column := columns[0]
	value, ok := toFloat(rows.Rows[0][column])
	if !ok {
		return nil
	}
	return &ChartSpec{
		Shape:       shape,
		Type:        ChartBar,
		Title:       ChartTitle(question),
		LabelColumn: column,
		ValueColumn: column,
		Points: []ChartPoint{{
			Label:      humanize(column),
			Value:      value,
			ColorIndex: 0,
			Color:      Palette[0],
		}},
	}
}

func (b *Binder) bindRanking(shape ResultShape, question string, rows ResultSet, columns []string) *ChartSpec {
	labelCol := findLabelColumn(columns)
	valueCol := findValueColumn(rows, columns, labelCol)
	if labelCol == "" || valueCol == "" {
		return nil
	}

	limited := rows.Rows
	truncated := false
	if len(limited) > b.maxItems {
		limited = limited[:b.maxItems]
		truncated = true
	}

	points := make([]ChartPoint, len(limited))
	total := 0.0
	for i, row := range limited {
		value, _ := toFloat(row[valueCol])
		total += value
		label := formatLabel(row[labelCol])
		points[i] = ChartPoint{
			Label:      label,
			Value:      value,
			ColorIndex: i % len(Palette),
			Color:      Palette[i%len(Palette)],
			ItemName:   itemName(row, label),
			Extra:      extraFields(row, columns, labelCol, valueCol),
		}
	}

	chartType := ChartBar
	if shape.Proportion {
		chartType = ChartPie
		for i := range points {
			pct := 0.0
			if total != 0 {
				pct = round2(points[i].Value / total * 100)
			}
			points[i].Percentage = &pct
		}
	}

	spec := &ChartSpec{
		Shape:       shape,
		Type:        chartType,
		Title:       ChartTitle(question),
		LabelColumn: labelCol,
		ValueColumn: valueCol,
		Points:      points,
		Truncated:   truncated,
	}
	if shape.Proportion {
		spec.Total = total
	}
	return spec
}

func (b *Binder) bindTimeSeries(shape ResultShape, question string, rows ResultSet, columns []string) *ChartSpec {
	dateCol := findDateColumn(columns)
	if dateCol == "" {
		return nil
	}
	valueCol := findValueColumn(rows, columns, dateCol)
	if valueCol == "" {
		return nil
	}

	ordered := sortByDate(rows.Rows, dateCol)
	points := make([]ChartPoint, len(ordered))
	for i, row := range ordered {
		value, _ := toFloat(row[valueCol])
		label := formatLabel(row[dateCol])
		points[i] = ChartPoint{
			Label:      label,
			Value:      value,
			ColorIndex: 0,
			Color:      Palette[0],
			Extra:      extraFields(row, columns, dateCol, valueCol),
		}
	}

	return &ChartSpec{
		Shape:       shape,
		Type:        ChartLine,
		Title:       ChartTitle(question),
		LabelColumn: dateCol,
		ValueColumn: valueCol,
		DateColumn:  dateCol,
		Points:      points,
	}
}

func (b *Binder) bindCorrelation(shape ResultShape, question string, rows ResultSet, columns []string) *ChartSpec {
	numeric := numericColumns(rows, columns)
	if len(numeric) < 2 {
		return nil
	}
	labelCol := findLabelColumn(columns)
	valueCol := findValueColumn(rows, columns, labelCol)
	if valueCol == "" {
		return nil
	}

	points := make([]ChartPoint, len(rows.Rows))
	for i, row := range rows.Rows {
		value, _ := toFloat(row[valueCol])
		label := formatLabel(row[labelCol])
		points[i] = ChartPoint{
			Label:      label,
			Value:      value,
			ColorIndex: i % len(Palette),
			Color:      Palette[i%len(Palette)],
			ItemName:   itemName(row, label),
			Extra:      extraFields(row, numeric, labelCol, valueCol),
		}
	}

	return &ChartSpec{
		Shape:          shape,
		Type:           ChartScatter,
		Title:          ChartTitle(question),
		LabelColumn:    labelCol,
		ValueColumn:    valueCol,
		NumericColumns: numeric,
		Points:         points,
	}
}

func findLabelColumn(columns []string) string {
	if c := firstExact(columns, labelExact); c != "" {
		return c
	}
	for _, c := range columns {
		if containsAny(strings.ToLower(c), labelTokens) {
			return c
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}

// findValueColumn picks a numeric column other than exclude
func findValueColumn(rows ResultSet, columns []string, exclude string) string {
	usable := func(c string) bool {
		return c != exclude && isNumericColumn(rows, c)
	}
	for _, name := range valueExact {
		for _, c := range columns {
			if c == name && usable(c) {
				return c
			}
		}
	}
	for _, c := range columns {
		if containsAny(strings.ToLower(c), valueTokens) && usable(c) {
			return c
		}
	}
	if len(columns) > 0 && usable(columns[len(columns)-1]) {
		return columns[len(columns)-1]
	}
	return ""
}

func findDateColumn(columns []string) string {
	if c := firstExact(columns, dateExact); c != "" {
		return c
	}
	for _, c := range columns {
		if isDateName(c) {
			return c
		}
	}
	return ""
}

func firstExact(columns, names []string) string {
	for _, name := range names {
		for _, c := range columns {
			if c == name {
				return c
			}
		}
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// sortByDate returns a sorted copy; rows keep their order if any date fails
// to parse
func sortByDate(rows []Row, dateCol string) []Row {
	type dated struct {
		row Row
		at  time.Time
	}
	items := make([]dated, len(rows))
	for i, row := range rows {
		at, ok := parseDate(row[dateCol])
		if !ok {
			out := make([]Row, len(rows))
			copy(out, rows)
			return out
		}
		items[i] = dated{row: row, at: at}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].at.Before(items[j].at)
	})
	out := make([]Row, len(items))
	for i, it := range items {
		out[i] = it.row
	}
	return out
}

func parseDate(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatLabel(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "Unknown"
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func itemName(row Row, label string) string {
	for _, c := range itemNameColumns {
		if s, ok := row[c].(string); ok && s != "" {
			return s
		}
	}
	if id, ok := row["item_id"]; ok && id != nil {
		return "Product " + formatLabel(id)
	}
	return label
}

func extraFields(row Row, columns []string, skip ...string) map[string]interface{} {
	extra := make(map[string]interface{})
	for _, c := range columns {
		if containsString(skip, c) {
			continue
		}
		if v, ok := row[c]; ok {
			extra[c] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	wordTop   = regexp.MustCompile(`\btop\b`)
	wordSales = regexp.MustCompile(`(?i)\bsales\b`)
	wordROAS  = regexp.MustCompile(`(?i)\broas\b`)
	wordCPC   = regexp.MustCompile(`(?i)\bcpc\b`)
)

// ChartTitle derives a display title from the question
func ChartTitle(question string) string {
	title := strings.TrimSpace(question)
	title = strings.TrimSpace(strings.TrimSuffix(title, "?"))
	if title == "" {
		return "Data Analysis"
	}

	r := []rune(title)
	r[0] = unicode.ToUpper(r[0])
	title = wordTop.ReplaceAllString(string(r), "Top")

	switch {
	case wordSales.MatchString(title):
		title += " - Sales Analysis"
	case wordROAS.MatchString(title):
		title += " - ROAS Performance"
	case wordCPC.MatchString(title):
		title += " - Cost Analysis"
	}
	return title
}

// humanize turns a column name into a display label
func humanize(column string) string {
	words := strings.Fields(strings.ReplaceAll(column, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
