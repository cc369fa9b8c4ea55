package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"WalletHub/internal/auth"
	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/intent"
	"WalletHub/internal/observability/alerting"
	"WalletHub/internal/pipeline"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
)

const maxBodyBytes = 1 << 20

type buildIntentRequest struct {
	Input   json.RawMessage `json:"input"`
	ChainID json.RawMessage `json:"chainId"`
}

type buildIntentResponse struct {
	Intent  *intent.Intent `json:"intent"`
	Preview any            `json:"preview"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleBuildIntent(w http.ResponseWriter, r *http.Request) {
	if s.builder == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not initialized")
		return
	}

	req, msg := decodeBuildRequest(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if subject, ok := auth.SubjectFrom(r.Context()); ok {
		req.UserID = subject.UserID
		setAuditUser(r.Context(), subject.UserID)
	}

	out, err := s.builder.Build(r.Context(), req)
	if err != nil {
		s.handleBuildError(r, req.UserID, err)
		writeError(w, xerrors.HTTPStatusOf(err), xerrors.MessageOf(err))
		return
	}

	w.Header().Set("X-Conversation-ID", out.ConversationID)
	w.Header().Set("X-Intent-ID", out.IntentID)
	writeJSON(w, http.StatusOK, buildIntentResponse{Intent: out.Intent, Preview: out.Preview.Data})
}

func decodeBuildRequest(r *http.Request) (pipeline.BuildRequest, string) {
	var body buildIntentRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return pipeline.BuildRequest{}, "Invalid request body"
	}

	var req pipeline.BuildRequest
	if len(body.Input) == 0 || string(body.Input) == "null" {
		return req, "input must be a string"
	}
	if err := json.Unmarshal(body.Input, &req.Input); err != nil {
		return req, "input must be a string"
	}
	if len(body.ChainID) > 0 && string(body.ChainID) != "null" {
		id, err := strconv.ParseInt(string(body.ChainID), 10, 64)
		if err != nil || id <= 0 {
			return req, "chainId must be a positive integer"
		}
		req.ChainID = id
	}
	return req, ""
}

func (s *Server) handleBuildError(r *http.Request, userID string, err error) {
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("构建意图预览失败",
			slog.String("user_id", userID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()))
	}
	if s.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError(err)
	event.Method = r.Method
	event.Path = r.URL.Path
	event.UserID = userID

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 3*time.Second)
	defer cancel()
	if notifyErr := s.alerts.Notify(ctx, event); notifyErr != nil {
		s.log.Warn("发送告警失败", slog.String("error", notifyErr.Error()))
	}
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	catalog := []workflow.Metadata{}
	if s.catalog != nil {
		catalog = append(catalog, s.catalog.Catalog()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": catalog})
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	chains := []web3.Chain{}
	if s.chains != nil {
		chains = append(chains, s.chains.Chains()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chains})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message})
}
