package database

import (
	"fmt"
	"strings"
)

// Column describes one column of a metrics table
type Column struct {
	Name        string
	Type        string
	Description string
}

// Table describes one metrics table for prompt building and validation
type Table struct {
	Name        string
	Description string
	Columns     []Column
}

const (
	TableEligibility = "product_eligibility"
	TableAdSales     = "ad_sales_metrics"
	TableTotalSales  = "total_sales_metrics"
)

// Tables is the static description of the metrics store
var Tables = []Table{
	{
		Name:        TableAdSales,
		Description: "Daily advertising performance per product",
		Columns: []Column{
			{Name: "date", Type: "TEXT", Description: "Date of metrics"},
			{Name: "item_id", Type: "INTEGER", Description: "Product identifier"},
			{Name: "ad_sales", Type: "REAL", Description: "Revenue from ads"},
			{Name: "impressions", Type: "INTEGER", Description: "Number of ad impressions"},
			{Name: "ad_spend", Type: "REAL", Description: "Amount spent on ads"},
			{Name: "clicks", Type: "INTEGER", Description: "Number of ad clicks"},
			{Name: "units_sold", Type: "INTEGER", Description: "Units sold through ads"},
		},
	},
	{
		Name:        TableEligibility,
		Description: "Advertising eligibility checks per product",
		Columns: []Column{
			{Name: "eligibility_datetime_utc", Type: "TEXT", Description: "Timestamp of eligibility check"},
			{Name: "item_id", Type: "INTEGER", Description: "Product identifier"},
			{Name: "eligibility", Type: "BOOLEAN", Description: "Whether product is eligible for ads"},
			{Name: "message", Type: "TEXT", Description: "Eligibility message or reason"},
		},
	},
	{
		Name:        TableTotalSales,
		Description: "Daily total sales per product",
		Columns: []Column{
			{Name: "date", Type: "TEXT", Description: "Date of metrics"},
			{Name: "item_id", Type: "INTEGER", Description: "Product identifier"},
			{Name: "total_sales", Type: "REAL", Description: "Total revenue"},
			{Name: "total_units_ordered", Type: "INTEGER", Description: "Total units ordered"},
		},
	},
}

// DescribedTableNames returns the names of all described tables
func DescribedTableNames() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}

// LookupTable returns the description of the named table
func LookupTable(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// ColumnNames returns the column names of t in declaration order
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SchemaDescription renders the tables in the compact one-line-per-table
// form used in model prompts
func SchemaDescription() string {
	var b strings.Builder
	for _, t := range Tables {
		fmt.Fprintf(&b, "Table '%s' has columns: %s\n", t.Name, strings.Join(t.ColumnNames(), ", "))
	}
	return b.String()
}
