// Package handler adapts API Gateway proxy requests to the admission use case.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"interview-agent/internal/domain"
	"interview-agent/internal/telemetry"
	"interview-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	admitPath         = "/admit"
	metricsPath       = "/metrics"
	sessionsPrefix    = "/sessions/"
	eventsSuffix      = "/events"
)

// UseCase is the subset of *usecase.AdmissionService the handler needs.
type UseCase interface {
	Admit(ctx context.Context, in usecase.AdmitInput) (usecase.AdmitOutput, error)
	History(ctx context.Context, sessionID string) (usecase.HistoryOutput, error)
}

type Handler struct {
	uc      UseCase
	metrics http.Handler
	logger  *slog.Logger
}

type Option func(*Handler)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(hd *Handler) {
		hd.metrics = h
	}
}

type admitRequest struct {
	RoomName string `json:"roomName"`
}

type admitResponse struct {
	SessionID     string `json:"sessionId"`
	AgentName     string `json:"agentName"`
	AgentIdentity string `json:"agentIdentity"`
	Metadata      string `json:"metadata"`
	StageCount    int    `json:"stageCount"`
	RecordSession bool   `json:"recordSession"`
}

type eventView struct {
	Type            string  `json:"type"`
	OccurredAt      string  `json:"occurredAt"`
	FromStage       string  `json:"fromStage,omitempty"`
	ToStage         string  `json:"toStage,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	CompletedStages int     `json:"completedStages,omitempty"`
	EndReason       string  `json:"endReason,omitempty"`
}

type summaryView struct {
	Status             string `json:"status"`
	CompletedStages    int    `json:"completedStages"`
	TotalStages        int    `json:"totalStages"`
	DurationSeconds    int64  `json:"durationSeconds"`
	EndReason          string `json:"endReason,omitempty"`
	TranscriptLocation string `json:"transcriptLocation,omitempty"`
	TranscriptURL      string `json:"transcriptUrl,omitempty"`
}

type historyResponse struct {
	SessionID string       `json:"sessionId"`
	Summary    *summaryView            `json:"summary,omitempty"`
	Events     []eventView             `json:"events"`
	Transcript *domain.InterviewRecord `json:"transcript,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes POST /admit, GET /sessions/{id}/events and GET /metrics.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ctx = telemetry.WithCorrelationID(ctx, headerValue(req.Headers, correlationHeader))
	corrID := telemetry.CorrelationID(ctx)
	logger := telemetry.RequestLogger(ctx, h.logger, req.Path)

	switch {
	case req.HTTPMethod == http.MethodPost && req.Path == admitPath:
		return h.admit(ctx, logger, corrID, req)
	case req.HTTPMethod == http.MethodGet && req.Path == metricsPath && h.metrics != nil:
		return h.serveMetrics(ctx, logger, corrID, req)
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(req.Path, sessionsPrefix) && strings.HasSuffix(req.Path, eventsSuffix):
		id := strings.TrimSuffix(strings.TrimPrefix(req.Path, sessionsPrefix), eventsSuffix)
		if v := req.PathParameters["id"]; v != "" {
			id = v
		}
		return h.history(ctx, logger, corrID, id)
	default:
		return jsonResponse(http.StatusNotFound, corrID, errorResponse{Error: "NOT_FOUND", Reason: "unknown_route"}), nil
	}
}

func (h *Handler) admit(ctx context.Context, logger *slog.Logger, corrID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body admitRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		logger.Warn("invalid admit body", "err", err)
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
	}

	out, err := h.uc.Admit(ctx, usecase.AdmitInput{RoomName: body.RoomName})
	if err != nil {
		return h.errorResponse(logger, corrID, err), nil
	}
	logger.Info("admitted", "session_id", out.SessionID, "stages", out.StageCount)
	return jsonResponse(http.StatusOK, corrID, admitResponse{
		SessionID:     out.SessionID,
		AgentName:     out.AgentName,
		AgentIdentity: out.AgentIdentity,
		Metadata:      out.Metadata,
		StageCount:    out.StageCount,
		RecordSession: out.RecordSession,
	}), nil
}

func (h *Handler) history(ctx context.Context, logger *slog.Logger, corrID, sessionID string) (events.APIGatewayProxyResponse, error) {
	out, err := h.uc.History(ctx, sessionID)
	if err != nil {
		return h.errorResponse(logger, corrID, err), nil
	}
	resp := historyResponse{SessionID: sessionID, Events: make([]eventView, 0, len(out.Events)), Transcript: out.Transcript}
	if out.Meta != nil {
		resp.Summary = &summaryView{
			Status:             out.Meta.Status,
			CompletedStages:    out.Meta.CompletedStages,
			TotalStages:        out.Meta.TotalStages,
			DurationSeconds:    out.Meta.DurationSeconds,
			EndReason:          out.Meta.EndReason,
			TranscriptLocation: out.Meta.TranscriptLocation,
			TranscriptURL:      out.TranscriptURL,
		}
	}
	for _, ev := range out.Events {
		resp.Events = append(resp.Events, toEventView(ev))
	}
	return jsonResponse(http.StatusOK, corrID, resp), nil
}

func (h *Handler) serveMetrics(ctx context.Context, logger *slog.Logger, corrID string, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, metricsPath, nil)
	if err != nil {
		logger.Error("build metrics request", "err", err)
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)}), nil
	}
	if accept := headerValue(req.Headers, "Accept"); accept != "" {
		r.Header.Set("Accept", accept)
	}
	w := &bufferedResponse{header: http.Header{}, status: http.StatusOK}
	h.metrics.ServeHTTP(w, r)

	headers := map[string]string{correlationHeader: corrID}
	for k := range w.header {
		headers[k] = w.header.Get(k)
	}
	return events.APIGatewayProxyResponse{StatusCode: w.status, Headers: headers, Body: w.body.String()}, nil
}

// bufferedResponse collects an http.Handler response for API Gateway.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header         { return b.header }
func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }
func (b *bufferedResponse) WriteHeader(status int)      { b.status = status }

func (h *Handler) errorResponse(logger *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.Error("unexpected use case error", "err", err)
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		logger.Warn("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return jsonResponse(status, corrID, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRejected:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toEventView(ev domain.SessionEvent) eventView {
	return eventView{
		Type:            string(ev.Type),
		OccurredAt:      ev.OccurredAt,
		FromStage:       ev.FromStage,
		ToStage:         ev.ToStage,
		DurationSeconds: ev.DurationSeconds,
		CompletedStages: ev.CompletedStages,
		EndReason:       ev.EndReason,
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(buf),
	}
}
