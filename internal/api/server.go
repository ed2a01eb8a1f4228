package api

import (
	"github.com/sirupsen/logrus"

	"github.com/vietchat/chat-backend/internal/chat"
)

// Server holds API dependencies.
type Server struct {
	controller *chat.Controller
	authToken  string
	logger     *logrus.Logger
}

// NewServer creates a new API server. authToken is the static bearer
// credential; when empty, authentication is disabled.
func NewServer(controller *chat.Controller, authToken string, logger *logrus.Logger) *Server {
	return &Server{
		controller: controller,
		authToken:  authToken,
		logger:     logger,
	}
}
