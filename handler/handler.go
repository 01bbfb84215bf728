package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"inventory-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Processor is the request pipeline the handler fronts.
type Processor interface {
	Process(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
}

type Handler struct {
	uc Processor
}

type processRequest struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type processResponse struct {
	Status  string `json:"status"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func NewHandler(uc Processor) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle serves POST /process-email behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	var in processRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Detail: "request body must be a JSON object with sender, subject and body",
		}), nil
	}
	if in.MessageID == "" {
		in.MessageID = corrID
	}

	out, err := h.uc.Process(ctx, usecase.ProcessInput{
		MessageID: in.MessageID,
		Sender:    in.Sender,
		Subject:   in.Subject,
		Body:      in.Body,
	})
	if err != nil {
		status, body := mapError(err)
		return jsonResponse(status, corrID, body), nil
	}

	return jsonResponse(http.StatusOK, corrID, processResponse{
		Status:  "sent",
		To:      out.To,
		Subject: out.Subject,
		Body:    out.Body,
	}), nil
}

func mapError(err error) (int, errorResponse) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Detail: "internal error"}
	}
	switch uerr.Code {
	case usecase.ErrorMalformedSubject:
		return http.StatusBadRequest, errorResponse{Error: string(uerr.Code), Detail: "Invalid subject format: " + uerr.Detail}
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, errorResponse{Error: string(uerr.Code), Detail: uerr.Reason}
	case usecase.ErrorRateLimited:
		return http.StatusServiceUnavailable, errorResponse{Error: string(uerr.Code), Detail: "service busy, retry later"}
	case usecase.ErrorDelivery:
		return http.StatusBadGateway, errorResponse{Error: string(uerr.Code), Detail: "reply could not be delivered"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Detail: "internal error"}
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
