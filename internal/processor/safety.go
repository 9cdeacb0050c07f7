package processor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
)

const (
	DefaultMaxSQLLength      = 1000
	DefaultMaxQuestionLength = 1000
)

// forbiddenKeywords are mutation and DDL statements, matched as whole words
var forbiddenKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE", "REPLACE"}

var (
	forbiddenKeywordPatterns = compileKeywordPatterns(forbiddenKeywords)
	readStatementPattern     = regexp.MustCompile(`(?i)^\(*\s*(SELECT|WITH)\b`)
	quotedText               = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
)

func compileKeywordPatterns(keywords []string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(keywords))
	for _, kw := range keywords {
		patterns[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return patterns
}

// ValidationResult is the verdict on one SQL string
type ValidationResult struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Err returns an UNSAFE_SQL error for a failed result and nil otherwise
func (r ValidationResult) Err() error {
	if r.OK {
		return nil
	}
	return errors.NewUnsafeSQLError(r.Violations)
}

// SafetyValidator decides whether SQL may be executed. It is a pure
// predicate and safe for concurrent use.
type SafetyValidator struct {
	maxLength   int
	knownTables map[string]*regexp.Regexp
}

// NewSafetyValidator creates a validator. A non-positive maxLength uses
// DefaultMaxSQLLength.
func NewSafetyValidator(maxLength int) *SafetyValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxSQLLength
	}
	tables := make(map[string]*regexp.Regexp, len(database.Tables))
	for _, t := range database.Tables {
		tables[t.Name] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t.Name) + `\b`)
	}
	return &SafetyValidator{maxLength: maxLength, knownTables: tables}
}

// Validate checks sql against the keyword blocklist, the length limit, the
// read-only statement rule and the single statement rule
func (sv *SafetyValidator) Validate(sql string) ValidationResult {
	var violations, warnings []string

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return ValidationResult{OK: false, Violations: []string{"SQL query is empty"}}
	}

	upper := strings.ToUpper(trimmed)
	for _, kw := range forbiddenKeywords {
		if forbiddenKeywordPatterns[kw].MatchString(upper) {
			violations = append(violations, fmt.Sprintf("SQL contains forbidden keyword: %s", kw))
		}
	}

	if len(sql) > sv.maxLength {
		violations = append(violations, fmt.Sprintf("SQL exceeds maximum length of %d characters", sv.maxLength))
	}

	if !readStatementPattern.MatchString(trimmed) {
		violations = append(violations, "SQL query must start with SELECT or WITH")
	}

	if isStacked(trimmed) {
		violations = append(violations, "SQL must be a single statement")
	}

	referenced := false
	for _, re := range sv.knownTables {
		if re.MatchString(trimmed) {
			referenced = true
			break
		}
	}
	if !referenced {
		warnings = append(warnings, "Query doesn't reference any known tables")
	}

	return ValidationResult{
		OK:         len(violations) == 0,
		Violations: violations,
		Warnings:   warnings,
	}
}

// isStacked reports whether sql holds more than one statement. One trailing
// semicolon is allowed and quoted text is ignored.
func isStacked(sql string) bool {
	body := strings.TrimSpace(quotedText.ReplaceAllString(sql, "''"))
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	return strings.Contains(body, ";")
}

// questionPatterns flag injection attempts embedded in a question
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|CREATE|TRUNCATE)\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`(?i);\s*DROP`),
	regexp.MustCompile(`(?is)UNION.*SELECT`),
	regexp.MustCompile(`(?i)\bOR\b.*\b1\s*=\s*1\b`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// QuestionSanitizer rejects malformed or hostile questions before any SQL
// is produced
type QuestionSanitizer struct {
	maxLength int
}

// NewQuestionSanitizer creates a sanitizer. A non-positive maxLength uses
// DefaultMaxQuestionLength.
func NewQuestionSanitizer(maxLength int) *QuestionSanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxQuestionLength
	}
	return &QuestionSanitizer{maxLength: maxLength}
}

// Sanitize returns the cleaned question or an INVALID_QUESTION error
func (qs *QuestionSanitizer) Sanitize(question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.NewInvalidQuestionError("Question cannot be empty")
	}
	if len([]rune(question)) > qs.maxLength {
		return "", errors.NewInvalidQuestionError(fmt.Sprintf("Question too long. Maximum %d characters allowed", qs.maxLength))
	}
	for _, r := range question {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return "", errors.NewInvalidQuestionError("Question contains control characters")
		}
	}
	for _, p := range questionPatterns {
		if p.MatchString(question) {
			return "", errors.NewInvalidQuestionError("Question contains potentially harmful content")
		}
	}

	cleaned := whitespaceRun.ReplaceAllString(strings.TrimSpace(question), " ")
	cleaned = strings.NewReplacer("<", "", ">", "").Replace(cleaned)
	return cleaned, nil
}
