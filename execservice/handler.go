package execservice

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/sandbox"
)

// SecretHeader carries the shared secret on every authenticated request.
const SecretHeader = "X-Sandbox-Secret"

// Response messages. They are part of the wire contract with the Dispatcher.
const (
	MsgUnauthorized     = "Unauthorized"
	MsgTimeout          = "Execution timeout"
	MsgInvalidRequest   = "Invalid request"
	MsgNoCode           = "No code provided"
	MsgExecutionFailure = "Execution failed"
)

// maxBodyBytes bounds the request body before JSON decoding.
const maxBodyBytes = 1 << 20

// ExecuteRequest is the body of POST /execute
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteResponse is returned with 200 for every completed run, including
// programs that failed.
type ExecuteResponse struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// ErrorResponse is returned with every non-200 status
type ErrorResponse struct {
	Error string `json:"error"`
}

// CodeRunner runs one submission; *Service is the production implementation.
type CodeRunner interface {
	Run(ctx context.Context, code string) (sandbox.ExecuteResult, error)
}

// RouterParams wires the HTTP surface of the Execution Service
type RouterParams struct {
	Logger  *zap.Logger
	Secret  string
	Runner  CodeRunner
	Metrics *Metrics
	// MCP is mounted at /mcp behind the same secret when set.
	MCP http.Handler
}

// NewRouter builds the gin engine serving /execute, /mcp, /healthz and /metrics
func NewRouter(p RouterParams) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(p.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if p.Metrics != nil {
		router.GET("/metrics", gin.WrapH(p.Metrics.Handler()))
	}

	authed := router.Group("/")
	authed.Use(SecretMiddleware(p.Secret))
	authed.POST("/execute", executeHandler(p.Logger, p.Runner))
	if p.MCP != nil {
		authed.Any("/mcp", gin.WrapH(p.MCP))
	}

	return router
}

// SecretMiddleware rejects any request whose SecretHeader does not match
// secret. An empty configured secret rejects everything.
func SecretMiddleware(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		provided := []byte(c.GetHeader(SecretHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: MsgUnauthorized})
			return
		}
		c.Next()
	}
}

func executeHandler(log *zap.Logger, runner CodeRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

		var req ExecuteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgInvalidRequest})
			return
		}
		if req.Code == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgNoCode})
			return
		}

		// A started execution runs to completion or to its deadline even if
		// the caller goes away.
		ctx := context.WithoutCancel(c.Request.Context())

		result, err := runner.Run(ctx, req.Code)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, ExecuteResponse{Output: result.Stdout, Error: result.Stderr})
		case errors.Is(err, sandbox.ErrTimeout):
			c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: MsgTimeout})
		default:
			log.Error("execution failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: failureMessage(err)})
		}
	}
}

// failureMessage names the failed step without exposing engine output.
func failureMessage(err error) string {
	var infra *sandbox.InfrastructureError
	if errors.As(err, &infra) {
		return fmt.Sprintf("%s: sandbox %s failed", MsgExecutionFailure, infra.Op)
	}
	return MsgExecutionFailure
}
