package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const (
	DefaultNarrativeTemperature = 0.3
	narrativeSampleRows         = 5
)

// NarrativeSource records who wrote the narrative
type NarrativeSource string

const (
	NarrativeModel     NarrativeSource = "model"
	NarrativeFormatter NarrativeSource = "formatter"
)

// Narrative is the prose answer to a question
type Narrative struct {
	Text   string          `json:"text"`
	Source NarrativeSource `json:"source"`
}

// Narrator asks the model for a business answer and falls back to the
// deterministic formatter whenever the model cannot be used
type Narrator struct {
	client      llm.Client
	formatter   *Formatter
	temperature float64
	timeout     time.Duration
	logger      *observability.Logger
}

// NewNarrator creates a narrator. A nil client always uses the formatter.
func NewNarrator(client llm.Client, formatter *Formatter, temperature float64, timeout time.Duration, logger *observability.Logger) *Narrator {
	if formatter == nil {
		formatter = NewFormatter(nil)
	}
	if temperature <= 0 {
		temperature = DefaultNarrativeTemperature
	}
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Narrator{
		client:      client,
		formatter:   formatter,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

// Narrate writes the answer for rows. useModel=false, empty rows and
// high-stakes intents are always answered by the formatter.
func (n *Narrator) Narrate(ctx context.Context, question string, candidate CandidateSQL, rows ResultSet, useModel bool) Narrative {
	deterministic := Narrative{
		Text:   n.formatter.FormatIntent(candidate.Intent, question, rows),
		Source: NarrativeFormatter,
	}
	if !useModel || n.client == nil || rows.Empty() || candidate.Intent.HighStakes() {
		return deterministic
	}

	genCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	completion, err := n.client.Complete(genCtx, llm.CompletionRequest{
		Prompt:      BuildNarrativePrompt(question, candidate.SQL, rows),
		Temperature: n.temperature,
	})
	observability.RecordLLMMetrics("narrate", time.Since(start), err)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = fmt.Errorf("empty narrative")
	}
	if err != nil {
		observability.GetGlobalMetrics().Inc(observability.MetricNarrativeFallbacks, nil)
		n.logger.Warn(ctx, "Narrative generation failed, using formatter", map[string]interface{}{
			"error": err.Error(),
		})
		return deterministic
	}

	return Narrative{Text: strings.TrimSpace(completion.Text), Source: NarrativeModel}
}

// BuildNarrativePrompt renders the answer prompt with at most five sample rows
func BuildNarrativePrompt(question, sql string, rows ResultSet) string {
	return fmt.Sprintf(`Based on the SQL query results, provide a clear business answer.

Question: %s
SQL Query: %s
Results: %s

Provide a concise, business-friendly answer with specific numbers and insights.
`, question, sql, sampleRows(rows))
}

func sampleRows(rows ResultSet) string {
	if rows.Empty() {
		return "No results found"
	}
	sample := rows.Rows
	if len(sample) > narrativeSampleRows {
		sample = sample[:narrativeSampleRows]
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", sample)
	}
	out := string(data)
	if rows.Len() > narrativeSampleRows {
		out += fmt.Sprintf("\n... and %d more rows", rows.Len()-narrativeSampleRows)
	}
	return out
}
