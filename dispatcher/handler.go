package dispatcher

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/execservice"
	"github.com/isdmx/runbox/logger"
)

// Client-facing messages.
const (
	MsgUnauthorized       = "Unauthorized"
	MsgTooManyRequests    = "Too many requests"
	MsgInvalidRequest     = "Invalid request"
	MsgNoCode             = "No code provided"
	MsgCodeTooLong        = "Code too long"
	MsgSecretMissing      = "Sandbox secret not configured"
	MsgTimeout            = "Execution timeout"
	MsgSandboxError       = "Sandbox error"
	MsgSandboxUnavailable = "Sandbox unavailable"
)

// maxBodyBytes bounds the request body. It is far above any accepted
// submission so oversized code still reaches the length check.
const maxBodyBytes = 1 << 20

// RunRequest is the body of POST /run_code
type RunRequest struct {
	Code string `json:"code"`
}

// ErrorDetails carries the downstream status and message of a failed call.
type ErrorDetails struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-200 status
type ErrorResponse struct {
	Error   string        `json:"error"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// RouterParams wires the HTTP surface of the Dispatcher
type RouterParams struct {
	Logger        *zap.Logger
	Sessions      *SessionVerifier
	Limiter       *RateLimiter
	Caller        Caller
	MaxCodeLength int
	// Testing permits forwarding without a configured shared secret.
	Testing bool
}

// NewRouter builds the gin engine serving /run_code and /healthz
func NewRouter(p RouterParams) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(p.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/run_code",
		SessionMiddleware(p.Sessions),
		RateLimitMiddleware(p.Limiter),
		runCodeHandler(p),
	)

	return router
}

func runCodeHandler(p RouterParams) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

		var req RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgInvalidRequest})
			return
		}
		if req.Code == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: MsgNoCode})
			return
		}
		if utf8.RuneCountInString(req.Code) > p.MaxCodeLength {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: MsgCodeTooLong})
			return
		}
		if !p.Caller.HasSecret() && !p.Testing {
			p.Logger.Error("refusing to forward without a shared secret")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgSecretMissing})
			return
		}

		resp, err := p.Caller.Call(c.Request.Context(), req.Code)
		switch {
		case errors.Is(err, ErrCallTimeout):
			p.Logger.Warn("execution service call timed out", zap.Error(err))
			c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: MsgTimeout})
			return
		case err != nil:
			p.Logger.Error("execution service unreachable", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: MsgSandboxUnavailable})
			return
		}

		switch resp.Status {
		case http.StatusOK:
			c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Body)
		case http.StatusRequestTimeout:
			c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: MsgTimeout})
		default:
			p.Logger.Warn("execution service returned an error", zap.Int("status", resp.Status))
			c.JSON(resp.Status, ErrorResponse{
				Error:   MsgSandboxError,
				Details: &ErrorDetails{Status: resp.Status, Message: downstreamMessage(resp)},
			})
		}
	}
}

// downstreamMessage extracts the error text of an Execution Service reply,
// falling back to the status text for bodies it did not produce.
func downstreamMessage(resp *DownstreamResponse) string {
	var body execservice.ErrorResponse
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(resp.Status)
}
