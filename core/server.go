package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"happyshopper/agent"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// genericFailureMessage is what callers see for auth and upstream
// failures. The detail stays in the server logs.
const genericFailureMessage = "Something went wrong processing your request. Please try again later."

// Server is the agent gateway. It is stateless per request: every entity
// with a lifetime (identity, session, cart, product set) is owned by the
// widget client, and the gateway only relays.
type Server struct {
	engine  *EngineClient
	advisor *Advisor
	config  *Config
	logger  *logrus.Logger
}

// NewServer creates the gateway with all dependencies initialized.
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting gateway initialization")

	engine := NewEngineClient(config, DefaultTokenProvider{}, nil, logger)
	logger.WithField("engineBaseURL", config.EngineBaseURL()).Info("Engine client initialized")

	advisor, err := NewAdvisor(context.Background(), config, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize advisor")
		return nil, fmt.Errorf("failed to initialize advisor: %w", err)
	}

	logger.Info("Gateway initialization completed successfully")
	return &Server{
		engine:  engine,
		advisor: advisor,
		config:  config,
		logger:  logger,
	}, nil
}

// NewServerWithDependencies wires a gateway from pre-built collaborators.
// Used by tests to substitute the engine client and advisor.
func NewServerWithDependencies(config *Config, engine *EngineClient, advisor *Advisor, logger *logrus.Logger) *Server {
	return &Server{
		engine:  engine,
		advisor: advisor,
		config:  config,
		logger:  logger,
	}
}

// handleSendMessage relays one chat turn. The cart reference is embedded
// as structured context ahead of the literal user text because the
// upstream query method accepts only a flat message string, and the agent
// must still resolve cart-scoped tool calls.
//
// Two response modes:
//   - buffered (default): the newline-delimited upstream stream is fully
//     drained server-side and returned as one ordered JSON array, with
//     malformed lines logged and skipped;
//   - stream (?stream=1 or STREAM_RESPONSES): upstream records are proxied
//     to the caller as SSE data events, flushed per record.
func (s *Server) handleSendMessage(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/chat/send-message")
	requestLogger.Info("Received send-message request")

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: "Invalid request body"})
	}
	req.normalize()

	// sessionId is optional: an empty id is forwarded as-is and the
	// upstream mints a fresh session for the turn.
	if err := firstMissing(map[string]string{
		"message": req.Message,
		"userId":  req.UserID,
	}); err != nil {
		requestLogger.WithError(err).Warn("Request validation failed")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: err.Error()})
	}

	requestLogger = requestLogger.WithFields(logrus.Fields{
		"userID":        req.UserID,
		"sessionID":     req.SessionID,
		"messageLength": len(req.Message),
	})

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	startTime := time.Now()
	composed := agent.UserTurnMessage(req.CartID, req.Message)

	body, err := s.engine.StreamQuery(ctx, req.UserID, req.SessionID, composed)
	if err != nil {
		return s.failRequest(c, requestLogger, err)
	}
	defer body.Close()

	if s.config.StreamResponses || c.QueryParam("stream") == "1" {
		return s.proxyStream(c, body, requestLogger, startTime)
	}

	// Buffered mode: drain the upstream stream and hand back the ordered
	// event list as one array. A malformed line never aborts the batch.
	decoder := agent.NewDecoder(agent.NewLineFramer(body), s.logger)
	events, err := decoder.Drain()
	if err != nil {
		requestLogger.WithError(err).Error("Upstream stream failed mid-drain")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Success: false, Message: genericFailureMessage})
	}

	requestLogger.WithFields(logrus.Fields{
		"eventCount":    len(events),
		"executionTime": time.Since(startTime),
	}).Info("Send-message turn completed")

	if events == nil {
		events = []agent.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

// proxyStream re-frames the upstream newline-delimited stream as SSE and
// forwards each record as it arrives. Records pass through verbatim; the
// widget-side decoder owns skipping malformed ones.
func (s *Server) proxyStream(c echo.Context, body io.Reader, requestLogger *logrus.Entry, startTime time.Time) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	framer := agent.NewLineFramer(body)
	recordCount := 0
	for {
		record, err := framer.Next()
		if err != nil {
			break
		}
		fmt.Fprintf(c.Response(), "data: %s\n\n", record)
		c.Response().Flush()
		recordCount++
	}

	requestLogger.WithFields(logrus.Fields{
		"recordCount":   recordCount,
		"executionTime": time.Since(startTime),
	}).Info("Send-message stream proxied")
	return nil
}

// handleLatestSession resolves the upstream session list for one user,
// used by the widget to resume the most recent session. The upstream
// payload passes through untouched.
func (s *Server) handleLatestSession(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/chat/get-latest-session")
	requestLogger.Info("Received latest-session request")

	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: "Invalid request body"})
	}
	req.normalize()

	if err := firstMissing(map[string]string{"userId": req.UserID}); err != nil {
		requestLogger.WithError(err).Warn("Request validation failed")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	payload, err := s.engine.ListSessions(ctx, req.UserID)
	if err != nil {
		return s.failRequest(c, requestLogger.WithField("userID", req.UserID), err)
	}

	requestLogger.WithField("userID", req.UserID).Info("Latest-session query completed")
	return c.JSONBlob(http.StatusOK, payload)
}

// handleHistory fetches the full event history of one session for replay.
// The upstream payload passes through untouched.
func (s *Server) handleHistory(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/chat/get-history")
	requestLogger.Info("Received history request")

	var req HistoryRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: "Invalid request body"})
	}
	req.normalize()

	if err := firstMissing(map[string]string{
		"userId":    req.UserID,
		"sessionId": req.SessionID,
	}); err != nil {
		requestLogger.WithError(err).Warn("Request validation failed")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	payload, err := s.engine.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return s.failRequest(c, requestLogger.WithFields(logrus.Fields{
			"userID":    req.UserID,
			"sessionID": req.SessionID,
		}), err)
	}

	requestLogger.WithField("sessionID", req.SessionID).Info("History query completed")
	return c.JSONBlob(http.StatusOK, payload)
}

// handleAdvisorNudge generates one proactive advisor nudge from the
// shopper's current page context.
func (s *Server) handleAdvisorNudge(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/api/advisor/nudge")
	requestLogger.Info("Received advisor nudge request")

	var req NudgeRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: "Invalid request body"})
	}

	if err := firstMissing(map[string]string{"pageContext": req.PageContext}); err != nil {
		requestLogger.WithError(err).Warn("Request validation failed")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	startTime := time.Now()
	nudge, err := s.advisor.GenerateNudge(ctx, req.PageContext)
	if err != nil {
		requestLogger.WithError(err).Error("Advisor nudge generation failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Success: false, Message: genericFailureMessage})
	}

	requestLogger.WithFields(logrus.Fields{
		"suggestionCount": len(nudge.Suggestions),
		"executionTime":   time.Since(startTime),
	}).Info("Advisor nudge generated")

	return c.JSON(http.StatusOK, NudgeResponse{
		Success:     true,
		Message:     nudge.Message,
		Suggestions: nudge.Suggestions,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"streamResponses": s.config.StreamResponses,
		"advisorProvider": s.config.AdvisorProvider,
	})
}

// failRequest maps a gateway error to its HTTP response. Validation
// failures surface verbatim; everything else is generic to the caller and
// detailed in the logs.
func (s *Server) failRequest(c echo.Context, requestLogger *logrus.Entry, err error) error {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		requestLogger.WithError(err).Warn("Request validation failed")
		return c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Message: err.Error()})
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		requestLogger.WithError(err).Error("Token acquisition failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Success: false, Message: genericFailureMessage})
	}

	requestLogger.WithError(err).Error("Upstream request failed")
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Success: false, Message: genericFailureMessage})
}

// firstMissing returns a ValidationError for the first empty required
// field, checked in a stable order so error messages are deterministic.
func firstMissing(fields map[string]string) error {
	for _, name := range []string{"message", "userId", "sessionId", "cartId", "pageContext"} {
		if value, required := fields[name]; required && value == "" {
			return &ValidationError{Field: name}
		}
	}
	return nil
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

// RegisterRoutes registers all HTTP routes for the gateway.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.POST("/api/chat/send-message", s.handleSendMessage)
	e.POST("/api/chat/get-latest-session", s.handleLatestSession)
	e.POST("/api/chat/get-history", s.handleHistory)
	e.POST("/api/advisor/nudge", s.handleAdvisorNudge)
	e.GET("/status", s.handleStatus)

	s.logger.Info("Routes registered successfully")
}
