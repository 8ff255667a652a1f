package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dotmila/mila/internal/service/dialogue"
	"github.com/dotmila/mila/pkg/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MessageHandler processes one user turn and always returns an envelope,
// even when the turn itself failed.
type MessageHandler interface {
	HandleMessage(ctx context.Context, req dialogue.Request) dialogue.Envelope
}

type MessageRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Text           string `json:"text"`
	Region         string `json:"region,omitempty"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	echo    *echo.Echo
	handler MessageHandler
	addr    string
}

func NewServer(addr string, handler MessageHandler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, handler: handler, addr: addr}
	e.POST("/v1/messages", s.PostMessage)
	e.GET("/healthz", s.Healthz)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// PostMessage handles one conversational turn.
// POST /v1/messages
func (s *Server) PostMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: &APIError{
				Message: "invalid request body",
				Type:    "invalid_request_error",
			},
		})
	}

	if param := firstMissing(req); param != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: &APIError{
				Message: param + " is required",
				Type:    "invalid_request_error",
				Param:   param,
			},
		})
	}

	env := s.handler.HandleMessage(c.Request().Context(), dialogue.Request{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Text:           req.Text,
		Region:         req.Region,
	})

	// Turn failures ride a 200 with status=error so clients can always
	// render the fallback text.
	return c.JSON(http.StatusOK, env)
}

// Healthz reports liveness.
// GET /healthz
func (s *Server) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func firstMissing(req MessageRequest) string {
	switch {
	case req.UserID == "":
		return "userId"
	case req.ConversationID == "":
		return "conversationId"
	case req.Text == "":
		return "text"
	}
	return ""
}
