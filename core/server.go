package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"cortex/brain"
	"cortex/events"
	"cortex/pair"
	"cortex/rules"
	"cortex/tools"
	"cortex/usage"
)

var (
	_ brain.TokenRecorder = (*usage.Tracker)(nil)
	_ brain.RulesProvider = (*rules.FileStore)(nil)
	_ brain.RulesProvider = rules.Static{}
)

// Server exposes a synchronous and a streaming Brain over HTTP. Both share the
// backend model, tools, rules and token accounting.
type Server struct {
	chat          *brain.Brain
	streaming     *brain.Brain
	rules         *rules.FileStore
	usage         usage.Store
	usageCloser   func() error
	workspace     *tools.Workspace
	memoryStore   *MemoryStore
	cancelManager *CancelManager
	config        *Config
	logger        *logrus.Logger
}

// ServerOption adjusts how NewServerWithModel builds the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	trackerOptions []usage.TrackerOption
}

// WithTrackerOptions configures the token usage tracker, for instance to
// replace the tokenizer.
func WithTrackerOptions(opts ...usage.TrackerOption) ServerOption {
	return func(o *serverOptions) { o.trackerOptions = append(o.trackerOptions, opts...) }
}

// NewServer connects to the configured backend and builds the server.
func NewServer(config *Config, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	llm, err := NewModel(config, logger)
	if err != nil {
		return nil, err
	}
	return NewServerWithModel(config, logger, llm)
}

// NewModel initializes the backend model of the configured provider.
func NewModel(config *Config, logger *logrus.Logger) (llms.Model, error) {
	switch config.LLMProvider {
	case "gemini":
		logger.WithField("model", config.GeminiModel).Info("Initializing Gemini LLM")

		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key is required when using gemini provider. Set GEMINI_API_KEY environment variable")
		}

		llm, err := googleai.New(
			context.Background(),
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(config.GeminiModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}
		return llm, nil

	default:
		logger.WithFields(logrus.Fields{
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing Ollama LLM")

		llm, err := ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
		return llm, nil
	}
}

// NewServerWithModel builds the server around an already initialized model.
func NewServerWithModel(config *Config, logger *logrus.Logger, llm llms.Model, opts ...ServerOption) (*Server, error) {
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := &Server{
		cancelManager: NewCancelManager(),
		config:        config,
		logger:        logger,
	}

	workingDir := config.WorkspaceDir
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		workingDir = wd
	}
	workspace, err := tools.NewWorkspace(workingDir)
	if err != nil {
		return nil, err
	}
	s.workspace = workspace
	logger.WithField("workspace", workspace.Root()).Info("Workspace set")

	if config.RulesFile != "" {
		store, err := rules.Load(config.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		s.rules = store
	}

	if config.UsageDBPath != "" {
		store, err := usage.NewSQLiteStore(config.UsageDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage store: %w", err)
		}
		s.usage = store
		s.usageCloser = store.Close
	}

	tokenModel := config.TokenModel
	if tokenModel == "" {
		tokenModel = config.ModelName()
	}
	tracker := usage.NewTracker(s.usage, tokenModel, options.trackerOptions...)

	cleaned := NewCleaningLLMWrapper(llm, logger.WithField("component", "llm"), config.LogTruncateLength)

	brainOpts := []brain.Option{
		brain.WithTools(workspace.Tools()...),
		brain.WithMemory(config.MemoryWindow),
		brain.WithTokenRecorder(tracker),
		brain.WithMaxIterations(config.MaxIterations),
		brain.WithStreamTimeout(config.StreamTimeout),
		brain.WithLogger(logger.WithField("component", "brain")),
	}
	if s.rules != nil {
		brainOpts = append(brainOpts, brain.WithRules(s.rules), brain.WithProjectInfo(s.rules.ProjectInfo))
	}
	if config.DebugMode {
		brainOpts = append(brainOpts, brain.WithCallbacks(NewVerboseCallbacks(logger.WithField("component", "agent"), config.LogTruncateLength)))
	}

	if s.chat, err = brain.New(cleaned, append(brainOpts, brain.WithName("chat"))...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create chat brain: %w", err)
	}
	if s.streaming, err = brain.New(cleaned, append(brainOpts, brain.WithName("streaming"), brain.WithStreaming())...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create streaming brain: %w", err)
	}

	s.memoryStore = NewMemoryStore(config.SessionMaxAge, config.CleanupInterval, logger.WithField("component", "sessions"))

	logger.WithField("toolsCount", len(s.chat.Tools())).Info("Server initialization completed successfully")
	return s, nil
}

// Close releases the session store and the usage database.
func (s *Server) Close() error {
	if s.memoryStore != nil {
		s.memoryStore.Close()
	}
	if s.usageCloser != nil {
		return s.usageCloser()
	}
	return nil
}

// answerBrain is the Brain behind /chat and /describe.
func (s *Server) answerBrain() *brain.Brain {
	if s.config.Streaming {
		return s.streaming
	}
	return s.chat
}

// dispatch runs one exchange on b through call and waits for its outcome.
// Synchronous Brains publish the outcome before call returns; streaming ones
// publish it later from the session goroutine.
func (s *Server) dispatch(ctx context.Context, b *brain.Brain, exchangeID string, logger *logrus.Entry, call func()) (*brain.Response, error) {
	relay := newExchangeRelay(b, exchangeID, logger)
	defer relay.Close()

	call()
	return relay.outcome(ctx)
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat")
	requestLogger.Info("Received chat request")

	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	session := s.memoryStore.GetOrCreateSession(req.SessionID)
	exchangeID := uuid.NewString()
	requestLogger = requestLogger.WithFields(logrus.Fields{
		"sessionID":  session.ID,
		"exchangeID": exchangeID,
	})

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer func() {
		s.cancelManager.RemoveExecution(exchangeID)
		cancel()
	}()
	s.cancelManager.AddExecution(exchangeID, "chat", cancel)

	b := s.answerBrain()
	breq := req.brainRequest(exchangeID, session.History(s.config.ContextLimit), req.agentMode(s.config.AgentEnabled))

	startTime := time.Now()
	resp, err := s.dispatch(ctx, b, exchangeID, requestLogger, func() { b.Generate(ctx, breq) })
	return s.respond(c, requestLogger, session, exchangeID, req.Message, resp, err, time.Since(startTime))
}

func (s *Server) handleDescribe(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/describe")
	requestLogger.Info("Received describe request")

	var req DescribeRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	session := s.memoryStore.GetOrCreateSession(req.SessionID)
	exchangeID := uuid.NewString()
	requestLogger = requestLogger.WithFields(logrus.Fields{
		"sessionID":  session.ID,
		"exchangeID": exchangeID,
	})

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer func() {
		s.cancelManager.RemoveExecution(exchangeID)
		cancel()
	}()
	s.cancelManager.AddExecution(exchangeID, "describe", cancel)

	b := s.answerBrain()
	dreq := brain.DescriptionRequest{
		ID:            exchangeID,
		Project:       req.Project,
		Source:        req.Source,
		MethodContent: req.MethodContent,
		Query:         req.Query,
		SessionRules:  req.SessionRules,
		Images:        req.Images,
		History:       session.History(s.config.ContextLimit),
		AgentEnabled:  req.agentMode(s.config.AgentEnabled),
	}

	startTime := time.Now()
	resp, err := s.dispatch(ctx, b, exchangeID, requestLogger, func() { b.GenerateDescription(ctx, dreq) })
	return s.respond(c, requestLogger, session, exchangeID, req.Query, resp, err, time.Since(startTime))
}

// respond stores a successful exchange in the session and writes the answer.
// Failures are not remembered.
func (s *Server) respond(c echo.Context, requestLogger *logrus.Entry, session *ChatSession, exchangeID, query string, resp *brain.Response, err error, executionTime time.Duration) error {
	if err != nil {
		requestLogger.WithError(err).WithField("executionTime", executionTime).Error("Exchange failed")

		status := http.StatusOK
		message := brain.RenderFailure(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusGatewayTimeout
			message = "The request timed out or was stopped before the model answered."
		}
		return c.JSON(status, ChatResponse{
			Response:   message,
			SessionID:  session.ID,
			ExchangeID: exchangeID,
			Error:      err.Error(),
		})
	}

	session.AddExchange(exchangeID, query, resp.Text)

	requestLogger.WithFields(logrus.Fields{
		"executionTime":  executionTime,
		"responseLength": len(resp.Text),
	}).Info("Exchange completed successfully with memory updated")

	return c.JSON(http.StatusOK, ChatResponse{
		Response:   resp.Text,
		SessionID:  session.ID,
		ExchangeID: exchangeID,
	})
}

func (s *Server) handleStreamChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat/stream")
	requestLogger.Info("Received streaming chat request")

	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		requestLogger.WithError(err).Error("Failed to parse streaming request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	session := s.memoryStore.GetOrCreateSession(req.SessionID)
	exchangeID := uuid.NewString()
	requestLogger = requestLogger.WithFields(logrus.Fields{
		"sessionID":  session.ID,
		"exchangeID": exchangeID,
	})

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	s.sendStreamMessage(c, StreamMessage{Type: "session", Content: session.ID})
	s.sendStreamMessage(c, StreamMessage{Type: "execution_started", Content: exchangeID, ExchangeID: exchangeID})

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.StreamTimeout)
	defer func() {
		s.cancelManager.RemoveExecution(exchangeID)
		cancel()
	}()
	s.cancelManager.AddExecution(exchangeID, "stream", cancel)

	relay := newExchangeRelay(s.streaming, exchangeID, requestLogger)
	defer relay.Close()

	startTime := time.Now()
	s.streaming.Generate(ctx, req.brainRequest(exchangeID, session.History(s.config.ContextLimit), req.agentMode(s.config.AgentEnabled)))

	send := func(ev events.Event) {
		if msg, ok := streamMessage(ev, s.config.LogTruncateLength); ok {
			s.sendStreamMessage(c, msg)
		}
	}

	for {
		select {
		case ev := <-relay.events:
			send(ev)

		case ev := <-relay.terminal:
			// Chunks published before the outcome go out first
			for _, queued := range relay.pending() {
				send(queued)
			}
			send(ev)

			if ev.Kind == brain.EventError {
				requestLogger.WithField("executionTime", time.Since(startTime)).Warn("Streaming exchange failed")
				return nil
			}
			if resp, ok := ev.NewValue.(*brain.Response); ok {
				session.AddExchange(exchangeID, req.Message, resp.Text)
			}
			requestLogger.WithField("executionTime", time.Since(startTime)).Info("Streaming exchange completed with memory updated")
			return nil

		case <-ctx.Done():
			requestLogger.WithError(ctx.Err()).Warn("Streaming relay ended before the exchange")
			if errors.Is(ctx.Err(), context.Canceled) {
				s.sendStreamMessage(c, StreamMessage{Type: "stopped", Content: "Streaming was stopped", ExchangeID: exchangeID, Complete: true})
			} else {
				s.sendStreamMessage(c, StreamMessage{Type: "error", Content: "The request timed out", ExchangeID: exchangeID, Complete: true})
			}
			return nil
		}
	}
}

func (s *Server) handlePair(c echo.Context) error {
	specialist := c.Param("specialist")
	requestLogger := s.requestLogger(c, "/pair/:specialist").WithField("specialist", specialist)

	var req PairRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse pair request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	var globalRules, projectRules string
	if s.rules != nil {
		globalRules = s.rules.GlobalRules()
		projectRules = s.rules.ProjectRules(req.Project)
	}

	var (
		answer string
		err    error
	)
	switch specialist {
	case "techwriter":
		writer := s.chat.TechWriter()
		switch req.Action {
		case "", "generate", "enhance":
			element, parseErr := pair.ParseElement(req.Element)
			if parseErr != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": parseErr.Error()})
			}
			answer, err = writer.EnhanceJavadoc(ctx, element, req.Code, req.Javadoc, globalRules, projectRules)
		case "describe":
			answer, err = writer.DescribeCode(ctx, req.Code, req.SessionRules)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown action " + req.Action})
		}
	case "db":
		answer, err = s.chat.DBSpecialist().AssistDBMetadata(ctx, req.Prompt, req.Metadata, req.SessionRules)
	case "test":
		answer, err = s.chat.TestSpecialist().GenerateTestCase(ctx, pair.TestCase{
			Query:        req.Query,
			ProjectCode:  req.ProjectCode,
			ClassCode:    req.ClassCode,
			MethodCode:   req.MethodCode,
			Prompt:       req.Prompt,
			SessionRules: req.SessionRules,
		})
	default:
		requestLogger.Warn("Unknown specialist")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown specialist " + specialist})
	}

	if err != nil {
		requestLogger.WithError(err).Error("Pair programmer failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	requestLogger.WithField("responseLength", len(answer)).Info("Pair programmer answered")
	return c.JSON(http.StatusOK, PairResponse{Specialist: specialist, Response: answer})
}

func (s *Server) handleUsage(c echo.Context) error {
	if s.usage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Usage tracking is disabled"})
	}

	var filter usage.Filter
	for name, target := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid %s: expected RFC3339", name)})
		}
		*target = &parsed
	}

	stats, err := s.usage.Stats(c.Request().Context(), filter)
	if err != nil {
		s.logger.WithError(err).Error("Failed to query usage stats")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to query usage"})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleExchangeUsage(c echo.Context) error {
	if s.usage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Usage tracking is disabled"})
	}

	records, err := s.usage.ExchangeUsage(c.Request().Context(), c.Param("exchangeId"))
	if err != nil {
		s.logger.WithError(err).Error("Failed to query exchange usage")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to query usage"})
	}
	if len(records) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Exchange not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exchangeId": c.Param("exchangeId"),
		"records":    records,
	})
}

func (s *Server) handleReloadRules(c echo.Context) error {
	if s.rules == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No rules file configured"})
	}
	if err := s.rules.Reload(); err != nil {
		s.logger.WithError(err).Error("Failed to reload rules")
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Rules reloaded",
		"projects": s.rules.Projects(),
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	toolNames := make([]string, 0, len(s.chat.Tools()))
	for _, tool := range s.chat.Tools() {
		toolNames = append(toolNames, tool.Name())
	}

	activeExecutions := s.cancelManager.GetActiveExecutions()

	response := map[string]interface{}{
		"status":           "healthy",
		"provider":         s.config.LLMProvider,
		"model":            s.config.ModelName(),
		"streaming":        s.config.Streaming,
		"agentEnabled":     s.config.AgentEnabled,
		"memoryWindow":     s.chat.MemorySize(),
		"workspace":        s.workspace.Root(),
		"tools":            toolNames,
		"sessions":         s.memoryStore.GetSessionStats(),
		"activeExecutions": activeExecutions,
		"executionCount":   len(activeExecutions),
		"usageTracking":    s.usage != nil,
	}
	if s.rules != nil {
		response["projects"] = s.rules.Projects()
	}

	return c.JSON(http.StatusOK, response)
}

// handleGetSession returns a session with its exchanges
func (s *Server) handleGetSession(c echo.Context) error {
	session, exists := s.memoryStore.GetSession(c.Param("sessionId"))
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

// handleClearSession clears the history of a session
func (s *Server) handleClearSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	session, exists := s.memoryStore.GetSession(sessionID)
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	cleared := session.ClearExchanges()
	s.logger.WithFields(logrus.Fields{
		"sessionID":        sessionID,
		"clearedExchanges": cleared,
	}).Info("Session cleared successfully")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":          "Session cleared successfully",
		"sessionId":        sessionID,
		"clearedExchanges": cleared,
	})
}

// handleDeleteSession deletes a session
func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if !s.memoryStore.DeleteSession(sessionID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Session deleted successfully",
		"sessionId": sessionID,
	})
}

// handleListSessions lists all sessions
func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": s.memoryStore.GetAllSessions(),
	})
}

// handleClearMemory forgets the agent memory windows of both Brains
func (s *Server) handleClearMemory(c echo.Context) error {
	s.chat.ClearMemory(c.Request().Context())
	s.streaming.ClearMemory(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]string{"message": "Agent memory cleared"})
}

func (s *Server) handleStopExecution(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/stop")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse stop request body")
		return c.JSON(http.StatusBadRequest, StopResponse{Message: "Invalid request format"})
	}
	if req.ExecutionID == "" {
		return c.JSON(http.StatusBadRequest, StopResponse{Message: "Execution ID is required"})
	}

	requestLogger = requestLogger.WithField("executionID", req.ExecutionID)
	if !s.cancelManager.CancelExecution(req.ExecutionID) {
		requestLogger.Warn("Execution not found or already completed")
		return c.JSON(http.StatusNotFound, StopResponse{Message: "Execution not found or already completed"})
	}

	requestLogger.Info("Execution stopped successfully")
	return c.JSON(http.StatusOK, StopResponse{
		Success: true,
		Message: "Execution stopped successfully",
		Stopped: true,
	})
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.POST("/chat", s.handleChat)
	e.POST("/chat/stream", s.handleStreamChat)
	e.POST("/describe", s.handleDescribe)
	e.POST("/pair/:specialist", s.handlePair)
	e.POST("/stop", s.handleStopExecution)
	e.GET("/status", s.handleStatus)

	e.GET("/usage", s.handleUsage)
	e.GET("/usage/:exchangeId", s.handleExchangeUsage)
	e.POST("/rules/reload", s.handleReloadRules)
	e.POST("/memory/clear", s.handleClearMemory)

	e.GET("/sessions", s.handleListSessions)
	e.GET("/sessions/:sessionId", s.handleGetSession)
	e.POST("/sessions/:sessionId/clear", s.handleClearSession)
	e.DELETE("/sessions/:sessionId", s.handleDeleteSession)

	s.logger.Info("Routes registered successfully")
}
