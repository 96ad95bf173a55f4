// Package server exposes the agent over HTTP with a small embedded chat page.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/logger"
)

const requestIDHeader = "X-Request-ID"

//go:embed static/index.html
var indexPage []byte

// Responder answers one message given the prior conversation.
type Responder interface {
	Reply(ctx context.Context, message string, history []ai.Message) (string, error)
}

type Config struct {
	Listen         string `mapstructure:"listen"`
	SerializeTurns bool   `mapstructure:"serialize-turns"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"history"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	config    Config
	responder Responder
	logger    *zap.Logger
	app       *fiber.App

	// turns is held for the whole turn when SerializeTurns is set.
	turns sync.Mutex
}

func New(config Config, responder Responder, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		responder: responder,
		logger:    logger.WithFields(log),
		app:       app,
	}

	app.Use(s.requestID)

	app.Get("/", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(indexPage)
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
	app.Post("/api/chat", s.handleChat)

	return s
}

// Run listens until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting chat server",
		zap.String("listen", s.config.Listen),
		zap.Bool("serialize_turns", s.config.SerializeTurns),
	)

	return s.app.Listen(s.config.Listen)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)
	c.Locals(requestIDHeader, id)
	return c.Next()
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	log := s.logger.With(zap.Any("request_id", c.Locals(requestIDHeader)))

	var req ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Warn("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "message is required"})
	}

	history, err := toHistory(req.History)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	log.Debug("received chat request", zap.Int("history_length", len(history)))

	if s.config.SerializeTurns {
		s.turns.Lock()
		defer s.turns.Unlock()
	}

	reply, err := s.responder.Reply(c.UserContext(), req.Message, history)
	if err != nil {
		log.Error("turn failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to generate a reply"})
	}

	return c.JSON(ChatResponse{Reply: reply})
}

func toHistory(messages []ChatMessage) ([]ai.Message, error) {
	history := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		role := ai.Role(m.Role)
		if role != ai.RoleUser && role != ai.RoleAssistant {
			return nil, fmt.Errorf("history role must be user or assistant, got %q", m.Role)
		}
		history = append(history, ai.Message{Role: role, Content: m.Content})
	}
	return history, nil
}
