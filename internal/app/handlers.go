package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyellow/degree-advisor/internal/advisor"
	"github.com/garyellow/degree-advisor/internal/catalog"
	"github.com/garyellow/degree-advisor/internal/config"
	"github.com/garyellow/degree-advisor/internal/dialogue"
	apperrors "github.com/garyellow/degree-advisor/internal/errors"
	"github.com/garyellow/degree-advisor/internal/profile"
	"github.com/garyellow/degree-advisor/internal/ratelimit"
	"github.com/garyellow/degree-advisor/internal/sentry"
	"github.com/garyellow/degree-advisor/internal/sliceutil"
)

type createSessionRequest struct {
	Marks                []profile.Mark `json:"marks"`
	MarksText            string         `json:"marks_text"` // used when Marks is empty
	CertificateInterests []string       `json:"certificate_interests"`
	CertificateTexts     []string       `json:"certificate_texts"`
	DegreeLevel          string         `json:"degree_level"`
	Aspiration           string         `json:"aspiration"`
	WorkPreference       []string       `json:"work_preference"`
	AcademicInterests    string         `json:"academic_interests"`
	Activities           string         `json:"activities"`
	SkipOpening          bool           `json:"skip_opening"`
}

// input converts the request into builder input. An absent degree level
// means bachelor. A label that does not parse is kept as unknown; such a
// student simply has no eligible courses.
func (r createSessionRequest) input(b *profile.Builder) profile.Input {
	level := catalog.LevelBachelor
	if strings.TrimSpace(r.DegreeLevel) != "" {
		level, _ = catalog.ParseDegreeLevel(r.DegreeLevel)
	}

	marks := r.Marks
	if len(marks) == 0 && strings.TrimSpace(r.MarksText) != "" {
		marks = profile.ParseMarks(r.MarksText)
	}

	return profile.Input{
		Marks:                marks,
		CertificateInterests: sliceutil.Union(r.CertificateInterests, b.InterestsFromCertificates(r.CertificateTexts)),
		DegreeLevel:          level,
		Aspiration:           r.Aspiration,
		WorkPreference:       r.WorkPreference,
		AcademicInterests:    r.AcademicInterests,
		Activities:           r.Activities,
	}
}

type sessionResponse struct {
	SessionID  string                 `json:"session_id"`
	Profile    profile.StudentProfile `json:"profile"`
	History    dialogue.History       `json:"history,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	LastActive time.Time              `json:"last_active"`
	Opening    *advisor.TurnResult    `json:"opening,omitempty"`
}

func newSessionResponse(s *advisor.Session) sessionResponse {
	return sessionResponse{
		SessionID:  s.ID,
		Profile:    s.Profile,
		History:    s.History(),
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
	}
}

// createSession builds a profile and opens a session. Unless skipped, the
// opening recommendation (or clarifying questions) is produced right away.
func (a *Application) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, apperrors.NewValidationError("body", err.Error()))
		return
	}
	if !a.allow(c, a.sessionLimiter, c.ClientIP()) {
		return
	}

	s := a.advisor.StartSession(req.input(a.advisor.Builder()))
	if req.SkipOpening {
		c.JSON(http.StatusCreated, newSessionResponse(s))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.TurnProcessing)
	defer cancel()
	res, err := a.advisor.Turn(ctx, s.ID, "")
	if err != nil {
		a.advisor.Sessions().Delete(s.ID)
		a.writeError(c, apperrors.NewWrapper("app", "create_session").Wrap(err, "could not start the conversation"))
		return
	}

	resp := newSessionResponse(s)
	resp.Opening = &res
	c.JSON(http.StatusCreated, resp)
}

func (a *Application) getSession(c *gin.Context) {
	s, err := a.advisor.Sessions().Get(c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(s))
}

func (a *Application) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := a.advisor.Sessions().Get(id); err != nil {
		a.writeError(c, err)
		return
	}
	a.advisor.Sessions().Delete(id)
	c.Status(http.StatusNoContent)
}

type turnRequest struct {
	Message string `json:"message"`
}

// postTurn runs one dialogue turn. The turn always ends with a reply; only
// an unknown session, bad input or a client that went away produce errors.
func (a *Application) postTurn(c *gin.Context) {
	id := c.Param("id")
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, apperrors.NewValidationError("body", err.Error()))
		return
	}
	if _, err := a.advisor.Sessions().Get(id); err != nil {
		a.writeError(c, err)
		return
	}
	if !a.allow(c, a.turnLimiter, id) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.TurnProcessing)
	defer cancel()
	res, err := a.advisor.Turn(ctx, id, req.Message)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type enrichRequest struct {
	SourceURL string `json:"source_url" binding:"required"`
}

func (a *Application) enrichCourse(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, apperrors.NewValidationError("source_url", "required"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.ContentFetch+config.Embedding)
	defer cancel()
	rec, err := a.advisor.EnrichCourse(ctx, req.SourceURL)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": rec})
}

// searchCourses runs a semantic search restricted to enriched courses.
func (a *Application) searchCourses(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		a.writeError(c, apperrors.NewValidationError("q", "required"))
		return
	}
	level, ok := catalog.ParseDegreeLevel(c.DefaultQuery("level", string(catalog.LevelBachelor)))
	if !ok {
		a.writeError(c, apperrors.NewValidationError("level", "must be bachelor or master"))
		return
	}
	k := a.cfg.PresentK
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(c, apperrors.NewValidationError("k", "must be a positive integer"))
			return
		}
		k = min(n, a.cfg.TopK)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), config.Embedding)
	defer cancel()
	hits, err := a.advisor.Engine().Matcher.SearchEnriched(ctx, query, level, k)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level, "results": hits})
}

type reloadRequest struct {
	Force bool `json:"force"`
}

// reloadCatalog re-reads the catalog file and swaps the engine. A reload
// whose embedding pass failed still succeeds on the keyword path and says so.
func (a *Application) reloadCatalog(c *gin.Context) {
	var req reloadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			a.writeError(c, apperrors.NewValidationError("body", err.Error()))
			return
		}
	}

	engine, err := a.reload(c.Request.Context(), req.Force)
	if engine == nil {
		a.writeError(c, apperrors.NewWrapper("app", "reload_catalog").Wrap(err, "catalog reload failed"))
		return
	}

	resp := gin.H{
		"version":  engine.Version(),
		"courses":  engine.Catalog.Len(),
		"source":   engine.Source,
		"semantic": engine.Matcher.SemanticReady(),
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *Application) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

func (a *Application) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), config.ReadinessCheck)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		a.logger.WithError(err).Warn("Readiness check failed: database unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	engine := a.advisor.Engine()
	enrichments, err := a.db.CountEnrichments(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to count enrichments")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"database": "connected",
		"catalog": gin.H{
			"version":     engine.Version(),
			"courses":     engine.Catalog.Len(),
			"source":      engine.Source,
			"loaded_at":   engine.LoadedAt,
			"enrichments": enrichments,
		},
		"sessions": a.advisor.Sessions().Len(),
		"features": a.features(),
	})
}

func (a *Application) features() map[string]bool {
	return map[string]bool{
		"generation":      a.generator != nil,
		"semantic_search": a.advisor.Engine().Matcher.SemanticReady(),
		"snapshots":       a.snapshots != nil,
		"deltas":          a.deltas != nil,
		"admin":           a.cfg.AdminToken != "",
	}
}

// allow applies a keyed limiter and answers 429 with Retry-After when the
// key is over budget.
func (a *Application) allow(c *gin.Context, l *ratelimit.KeyedLimiter, key string) bool {
	if l == nil || l.Allow(key) {
		return true
	}
	secs := max(1, int(math.Ceil(l.RetryAfter(key).Seconds())))
	if a.metrics != nil {
		a.metrics.RecordHTTPError("rate_limited", c.FullPath())
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate_limited",
		"retry_after": secs,
	})
	return false
}

// writeError maps an error onto a status code and a JSON body. Internal
// details never reach the client on 5xx responses.
func (a *Application) writeError(c *gin.Context, err error) {
	status, kind := classify(err)
	if a.metrics != nil {
		a.metrics.RecordHTTPError(kind, c.FullPath())
	}

	message := apperrors.GetUserMessage(err)
	if status >= http.StatusInternalServerError {
		if status != http.StatusServiceUnavailable && !errors.Is(err, context.Canceled) {
			sentry.CaptureWithTags(c.Request.Context(), err, map[string]string{"route": c.FullPath()})
		}
		var wrapped *apperrors.WrappedError
		if !errors.As(err, &wrapped) {
			message = http.StatusText(status)
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrContentFetch):
		return http.StatusBadGateway, "content_fetch"
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
