package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditledger/internal/identity"
	"github.com/jmerrifield20/auditledger/internal/ledger"
)

// AuditHandler exposes the audit ledger over HTTP. Producers may only append;
// auditors may only read and verify. There is no route that changes or
// removes an entry.
type AuditHandler struct {
	svc      *ledger.Service
	verifier *ledger.Verifier
	query    *ledger.Query
	tokens   *identity.TokenIssuer
	logger   *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. tokens may be nil, in which case
// the routes are unauthenticated; use that only in tests and local tooling.
func NewAuditHandler(
	svc *ledger.Service,
	verifier *ledger.Verifier,
	query *ledger.Query,
	tokens *identity.TokenIssuer,
	logger *zap.Logger,
) *AuditHandler {
	return &AuditHandler{svc: svc, verifier: verifier, query: query, tokens: tokens, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	a.POST("/entries", h.requireRole(identity.RoleProducer), h.Append)

	r := a.Group("", h.requireRole(identity.RoleAuditor))
	{
		r.GET("", h.Head)
		r.GET("/verify", h.Verify)
		r.GET("/entries/:seq", h.GetEntry)
		r.GET("/actors/:id/entries", h.ByActor)
		r.GET("/targets/:id/entries", h.ByTarget)
	}
}

// requireRole returns the RequireRole middleware when auth is configured,
// or a pass-through otherwise.
func (h *AuditHandler) requireRole(role string) gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireRole(h.tokens, role)
}

// Append handles POST /audit/entries: records one action.
func (h *AuditHandler) Append(c *gin.Context) {
	var req ledger.AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.RequestID == "" {
		req.RequestID = CallerRequestID(c)
	}

	entry, err := h.svc.Append(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Location", "/api/v1/audit/entries/"+strconv.FormatInt(entry.SequenceNumber, 10))
	c.JSON(http.StatusCreated, entry)
}

// Head handles GET /audit: returns the newest sequence number and its hash.
func (h *AuditHandler) Head(c *gin.Context) {
	tail, err := h.query.Head(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tail)
}

// Verify handles GET /audit/verify: walks the chain and reports integrity.
// Violations are part of a 200 response; only an unreadable store is an error.
func (h *AuditHandler) Verify(c *gin.Context) {
	from, ok := int64Query(c, "from")
	if !ok {
		return
	}
	to, ok := int64Query(c, "to")
	if !ok {
		return
	}

	report, err := h.verifier.VerifyIntegrity(c.Request.Context(), ledger.VerifyOptions{From: from, To: to})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetEntry handles GET /audit/entries/:seq: returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.query.Get(c.Request.Context(), seq)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ByActor handles GET /audit/actors/:id/entries.
func (h *AuditHandler) ByActor(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	entries, err := h.query.ByActor(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ByTarget handles GET /audit/targets/:id/entries.
func (h *AuditHandler) ByTarget(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	entries, err := h.query.ByTarget(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// writeError maps ledger errors onto HTTP statuses.
func (h *AuditHandler) writeError(c *gin.Context, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case errors.Is(err, ledger.ErrConcurrency):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, gin.H{"error": "ledger busy, retry the request"})
	case errors.Is(err, ledger.ErrStorage):
		h.logger.Error("ledger storage failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger storage unavailable"})
	default:
		h.logger.Error("unexpected ledger error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseFilter(c *gin.Context) (ledger.Filter, bool) {
	var f ledger.Filter
	var ok bool
	if f.Limit, ok = intQuery(c, "limit"); !ok {
		return f, false
	}
	if f.Skip, ok = intQuery(c, "skip"); !ok {
		return f, false
	}
	f.Action = ledger.Action(c.Query("action"))
	f.Severity = ledger.Severity(c.Query("severity"))
	if f.From, ok = timeQuery(c, "from"); !ok {
		return f, false
	}
	if f.To, ok = timeQuery(c, "to"); !ok {
		return f, false
	}
	return f, true
}

func intQuery(c *gin.Context, key string) (int, bool) {
	s := c.Query(key)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func int64Query(c *gin.Context, key string) (int64, bool) {
	s := c.Query(key)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func timeQuery(c *gin.Context, key string) (time.Time, bool) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be an RFC 3339 timestamp"})
		return time.Time{}, false
	}
	return t, true
}
