package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

const maxSQLHeaderLength = 200

// SQLRequest carries caller supplied SQL, optionally with the question it answers
type SQLRequest struct {
	Question string `json:"question"`
	SQLQuery string `json:"sql_query"`
}

// BatchRequest carries several questions
type BatchRequest struct {
	Questions []processor.QueryRequest `json:"questions" binding:"required"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req processor.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	resp, err := s.processor.Ask(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}
	if strings.TrimSpace(req.Question) == "" && strings.TrimSpace(req.SQLQuery) == "" {
		respondError(c, errors.NewInvalidInputError("sql_query", "provide sql_query or question"))
		return
	}

	analysis, err := s.processor.Analyze(c.Request.Context(), req.Question, req.SQLQuery)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}

	resp, err := s.processor.AskBatch(c.Request.Context(), req.Questions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleStream answers a question and writes the narrative word by word as
// chunked plain text
func (s *Server) handleStream(c *gin.Context) {
	var req processor.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}
	noChart := false
	req.IncludeChart = &noChart

	resp, err := s.processor.Ask(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	sqlHeader := processor.Truncate(strings.Join(strings.Fields(resp.SQLQuery), " "), maxSQLHeaderLength)
	c.Header("X-SQL-Query", sqlHeader)
	c.Header("X-Result-Count", strconv.Itoa(resp.DataPoints))
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	words := strings.SplitAfter(resp.Response, " ")
	ctx := c.Request.Context()
	i := 0
	c.Stream(func(w io.Writer) bool {
		if i >= len(words) {
			return false
		}
		if _, err := io.WriteString(w, words[i]); err != nil {
			return false
		}
		i++
		if s.streamDelay > 0 && i < len(words) {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.streamDelay):
			}
		}
		return i < len(words)
	})
}

func (s *Server) handleExamples(c *gin.Context) {
	c.JSON(http.StatusOK, processor.ExampleQuestions())
}

func (s *Server) handleExecuteSQL(c *gin.Context) {
	var req SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewInvalidInputError("request body", err.Error()))
		return
	}
	if strings.TrimSpace(req.SQLQuery) == "" {
		respondError(c, errors.NewInvalidInputError("sql_query", "must not be empty"))
		return
	}

	result, err := s.processor.ExecuteRaw(c.Request.Context(), req.SQLQuery)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.store.Summary(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), "Failed to read summary", err, nil)
		respondError(c, errors.NewDatabaseQueryError(err, "summary"))
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handlePerformance(c *gin.Context) {
	perf, err := s.store.Performance(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), "Failed to read performance", err, nil)
		respondError(c, errors.NewDatabaseQueryError(err, "performance"))
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleTrends(c *gin.Context) {
	trends, err := s.store.Trends(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), "Failed to read trends", err, nil)
		respondError(c, errors.NewDatabaseQueryError(err, "trends"))
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Server) handleProduct(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Param("item_id"), 10, 64)
	if err != nil {
		respondError(c, errors.NewInvalidInputError("item_id", "must be an integer"))
		return
	}

	pm, err := s.store.ProductMetrics(c.Request.Context(), itemID)
	if err != nil {
		s.logger.Error(c.Request.Context(), "Failed to read product metrics", err, map[string]interface{}{"item_id": itemID})
		respondError(c, errors.NewDatabaseQueryError(err, "product metrics"))
		return
	}
	if pm == nil {
		respondError(c, errors.NewProductNotFoundError(itemID))
		return
	}
	c.JSON(http.StatusOK, pm)
}

func (s *Server) handleSimilar(c *gin.Context) {
	if s.history == nil {
		respondError(c, errors.NewHistoryDisabledError())
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondError(c, errors.NewInvalidInputError("q", "must not be empty"))
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	entries, err := s.history.FindSimilar(c.Request.Context(), q, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": q, "similar": entries, "count": len(entries)})
}

func (s *Server) handleRecent(c *gin.Context) {
	if s.history == nil {
		respondError(c, errors.NewHistoryDisabledError())
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recent": entries, "count": len(entries)})
}

// queryLimit reads ?limit=; zero means the store default
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidInputError("limit", "must be a non-negative integer")
	}
	return n, nil
}
