package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

const maxPrintedRows = 25

func newAskCmd() *cobra.Command {
	var (
		noLLM   bool
		asJSON  bool
		noChart bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question against the local metrics store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			logger := cliLogger(cfg)

			store, err := app.OpenStore(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var client llm.Client
			if !noLLM {
				client = app.NewLLMClient(cfg.LLM, logger)
			}
			qp := processor.New(store, client, nil, app.ProcessorConfig(cfg), logger.Named("processor"))
			defer qp.Close()

			wantChart := !noChart
			req := &processor.QueryRequest{
				Question:     strings.Join(args, " "),
				IncludeChart: &wantChart,
			}
			resp, err := qp.Ask(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return renderAnswer(resp)
		},
	}

	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "Answer with the deterministic planner and templated narrative only")
	cmd.Flags().BoolVar(&noChart, "no-chart", false, "Skip chart binding")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func renderAnswer(resp *processor.QueryResponse) error {
	pterm.DefaultBox.
		WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Answer")).
		Println(resp.Response)
	pterm.Println()

	pterm.DefaultSection.Println("SQL")
	pterm.Println(resp.SQLQuery)
	pterm.Info.Printf("source=%s intent=%s rows=%d time=%.3fs\n", resp.SQLSource, resp.Intent, resp.DataPoints, resp.ExecutionTime)
	for _, w := range resp.Warnings {
		pterm.Warning.Println(w)
	}

	if len(resp.Results) == 0 {
		return nil
	}
	pterm.DefaultSection.Println("Results")
	if err := pterm.DefaultTable.WithHasHeader().WithData(rowsTable(resp.Columns, resp.Results, maxPrintedRows)).Render(); err != nil {
		return err
	}
	if len(resp.Results) > maxPrintedRows {
		pterm.Info.Printf("%d more rows not shown\n", len(resp.Results)-maxPrintedRows)
	}

	if resp.ChartData != nil {
		pterm.Info.Printf("Chart: %s\n", resp.ChartData.Type)
	}
	return nil
}

// rowsTable lays rows out under a header row in column order
func rowsTable(columns []string, rows []processor.Row, limit int) pterm.TableData {
	data := pterm.TableData{columns}
	for i, row := range rows {
		if limit > 0 && i >= limit {
			break
		}
		line := make([]string, len(columns))
		for j, col := range columns {
			line[j] = formatCell(row[col])
		}
		data = append(data, line)
	}
	return data
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}
