package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"ai-tutor/internal/domain"
	"ai-tutor/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatSender interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
}

type Handler struct {
	chat   ChatSender
	logger *slog.Logger
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

type askResponse struct {
	SessionID string                     `json:"sessionId"`
	Reply     domain.ConversationEntry   `json:"reply"`
	Entries   []domain.ConversationEntry `json:"entries"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(chat ChatSender) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{chat: chat, logger: slog.Default()}, nil
}

// Handle serves POST /ask behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With("correlation_id", corrID)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return h.errorResponse(corrID, http.StatusMethodNotAllowed, usecase.NewError(usecase.ErrorInvalidInput, "method_not_allowed")), nil
	}

	var in askRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		logger.Info("rejecting malformed body", "err", err)
		return h.errorResponse(corrID, http.StatusBadRequest, usecase.NewError(usecase.ErrorInvalidInput, "invalid_json")), nil
	}

	out, err := h.chat.Send(ctx, usecase.SendInput{SessionID: in.SessionID, Question: in.Question})
	if err != nil {
		code, _ := usecase.CodeOf(err)
		status := usecase.HTTPStatus(code)
		if status >= http.StatusInternalServerError {
			logger.Error("ask failed", "err", err)
		} else {
			logger.Info("ask rejected", "err", err)
		}
		return h.errorResponse(corrID, status, err), nil
	}

	return h.jsonResponse(corrID, http.StatusOK, askResponse{
		SessionID: out.SessionID,
		Reply:     out.Reply,
		Entries:   nonNil(out.Conversation.Entries),
	}), nil
}

func nonNil(entries []domain.ConversationEntry) []domain.ConversationEntry {
	if entries == nil {
		return []domain.ConversationEntry{}
	}
	return entries
}

func (h *Handler) errorResponse(corrID string, status int, err error) events.APIGatewayProxyResponse {
	code, reason := usecase.CodeOf(err)
	if code == usecase.ErrorInternal {
		reason = ""
	}
	return h.jsonResponse(corrID, status, errorResponse{Error: string(code), Reason: reason})
}

func (h *Handler) jsonResponse(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal response", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

// correlationID echoes the caller's id (header names are case-insensitive)
// or generates one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
