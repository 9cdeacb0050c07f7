package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const (
	DefaultGenerationTimeout = 30 * time.Second
	minSQLTokens             = 3
)

// InterpretOutcome records which path produced the candidate
type InterpretOutcome string

const (
	OutcomeGenerated        InterpretOutcome = "generated"
	OutcomeHighStakes       InterpretOutcome = "high_stakes"
	OutcomeLLMError         InterpretOutcome = "llm_error"
	OutcomeExtractionFailed InterpretOutcome = "extraction_failed"
)

// Interpretation is the result of Interpret. Err holds the cause of a
// fallback and is informational only; Candidate is always executable.
type Interpretation struct {
	Candidate   CandidateSQL
	Outcome     InterpretOutcome
	Err         error
	RawResponse string
}

// Fallback reports whether the planner supplied the candidate
func (i Interpretation) Fallback() bool {
	return i.Candidate.Source == SourceFallback
}

var (
	terminatedSelect = regexp.MustCompile(`(?is)\bSELECT\b.*?;`)
	openSelect       = regexp.MustCompile(`(?is)\bSELECT\b.*`)
	terminatedWith   = regexp.MustCompile(`(?is)\bWITH\s+\w+(\s*\([^)]*\))?\s+AS\s*\(.*?;`)
	openWith         = regexp.MustCompile(`(?is)\bWITH\s+\w+(\s*\([^)]*\))?\s+AS\s*\(.*`)
)

const promptTemplate = `You are an expert SQLite data analyst.
Given the following database schema:
%s
Here is an example of how to answer a question:
Question: "What were the top 5 products by total sales?"
SQL Query:
SELECT
  item_id,
  SUM(total_sales) AS total_sales_amount
FROM total_sales_metrics
GROUP BY
  item_id
ORDER BY
  total_sales_amount DESC
LIMIT 5;

---

Now, please answer this new question.
Question: "%s"
Your response MUST contain ONLY the SQL query.
SQL Query:
`

// BuildPrompt renders the generation prompt for a question
func BuildPrompt(question string) string {
	return fmt.Sprintf(promptTemplate, database.SchemaDescription(), question)
}

// ExtractSQL returns the last SELECT or WITH statement in a model response.
// When no statement is terminated by a semicolon, the text from the first
// statement keyword to the end is used.
func ExtractSQL(text string) (string, bool) {
	loc := lastStatement(text, terminatedSelect, terminatedWith)
	if loc == nil {
		loc = lastStatement(text, openSelect, openWith)
	}
	if loc == nil {
		return "", false
	}

	sql := strings.TrimSpace(text[loc[0]:loc[1]])
	sql = strings.TrimSpace(strings.TrimSuffix(sql, "```"))
	if len(strings.Fields(sql)) < minSQLTokens {
		return "", false
	}
	return sql, true
}

// lastStatement picks the match ending last. On a tie the earlier start
// wins, so a CTE keeps its WITH clause.
func lastStatement(text string, patterns ...*regexp.Regexp) []int {
	var best []int
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if best == nil || loc[1] > best[1] || (loc[1] == best[1] && loc[0] < best[0]) {
				best = loc
			}
		}
	}
	return best
}

// Interpreter turns a question into candidate SQL, asking the model for
// questions the planner is not required to answer
type Interpreter struct {
	client  llm.Client
	planner *Planner
	timeout time.Duration
	logger  *observability.Logger
}

// NewInterpreter creates an interpreter. client may be nil, in which case
// every question is answered by the planner.
func NewInterpreter(client llm.Client, planner *Planner, timeout time.Duration, logger *observability.Logger) *Interpreter {
	if planner == nil {
		planner = NewPlanner(nil)
	}
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Interpreter{
		client:  client,
		planner: planner,
		timeout: timeout,
		logger:  logger,
	}
}

// Interpret never fails: every failure path resolves to the planner's query
func (in *Interpreter) Interpret(ctx context.Context, question string) Interpretation {
	intent := in.planner.Classify(question)
	if intent.HighStakes() {
		return Interpretation{
			Candidate: in.planner.PlanIntent(intent),
			Outcome:   OutcomeHighStakes,
		}
	}

	if in.client == nil {
		return in.fallback(ctx, intent, OutcomeLLMError, fmt.Errorf("no text-completion client configured"), "")
	}

	genCtx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	start := time.Now()
	completion, err := in.client.Complete(genCtx, llm.CompletionRequest{
		Prompt:      BuildPrompt(question),
		Temperature: 0,
	})
	observability.RecordLLMMetrics("generate_sql", time.Since(start), err)
	if err != nil {
		return in.fallback(ctx, intent, OutcomeLLMError, err, "")
	}

	sql, ok := ExtractSQL(completion.Text)
	if !ok {
		return in.fallback(ctx, intent, OutcomeExtractionFailed,
			fmt.Errorf("no complete SQL statement in model response"), completion.Text)
	}

	in.logger.Debug(ctx, "Generated SQL", map[string]interface{}{
		"intent": intent.String(),
		"sql":    sql,
		"model":  completion.Model,
	})

	return Interpretation{
		Candidate: CandidateSQL{
			SQL:    sql,
			Source: SourceGenerated,
			Intent: intent,
		},
		Outcome:     OutcomeGenerated,
		RawResponse: completion.Text,
	}
}

func (in *Interpreter) fallback(ctx context.Context, intent Intent, outcome InterpretOutcome, err error, raw string) Interpretation {
	observability.RecordFallback(string(outcome))
	in.logger.Warn(ctx, "Falling back to planner", map[string]interface{}{
		"intent":  intent.String(),
		"outcome": string(outcome),
		"error":   err.Error(),
	})
	return Interpretation{
		Candidate:   in.planner.PlanIntent(intent),
		Outcome:     outcome,
		Err:         err,
		RawResponse: raw,
	}
}
