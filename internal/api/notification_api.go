// Package api exposes the notification operations over HTTP. It is a thin
// translation layer: parameters in, typed calls down, status codes out.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-campus-notify/internal/fanout"
	"github.com/tinywideclouds/go-campus-notify/internal/query"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// populationHeader carries the requester's population claim, stamped by the
// upstream gateway after authentication.
const populationHeader = "X-User-Population"

// Creator is the slice of the dispatcher the API needs.
type Creator interface {
	Create(ctx context.Context, req fanout.CreateRequest) (*notify.Notification, error)
}

type NotificationAPI struct {
	Creator Creator
	Queries *query.Service
	Logger  *slog.Logger
}

func NewNotificationAPI(creator Creator, queries *query.Service, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Creator: creator,
		Queries: queries,
		Logger:  logger,
	}
}

type createNotificationRequest struct {
	Title         string `json:"title"`
	Message       string `json:"message"`
	RecipientType string `json:"recipient_type"`
	RecipientID   string `json:"recipient_id,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
}

func (api *NotificationAPI) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	n, err := api.Creator.Create(ctx, fanout.CreateRequest{
		Title:         req.Title,
		Message:       req.Message,
		RecipientType: req.RecipientType,
		RecipientID:   req.RecipientID,
		RecipientName: req.RecipientName,
		CreatedBy:     userID,
	})
	switch {
	case errors.Is(err, notify.ErrInvalidNotification):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, notify.ErrNoTargets):
		response.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		// The record exists with status failed; surface the id so callers
		// can audit or retry.
		api.Logger.Error("delivery failed", "notification_id", notificationID(n), "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "delivery failed for notification "+notificationID(n))
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

func (api *NotificationAPI) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, ok := api.requestScope(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := api.Queries.List(ctx, query.ListRequest{
		Scope: scope,
		Page:  atoiDefault(q.Get("page"), 1),
		Limit: atoiDefault(q.Get("limit"), query.DefaultPageLimit),
	})
	if err != nil {
		api.Logger.Error("list failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (api *NotificationAPI) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := api.Queries.Get(ctx, r.PathValue("id"))
	if errors.Is(err, notify.ErrNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		api.Logger.Error("get failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, n)
}

func (api *NotificationAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := api.Queries.MarkRead(ctx, r.PathValue("id"), userID)
	if errors.Is(err, notify.ErrNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		api.Logger.Error("mark read failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "update failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *NotificationAPI) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, ok := api.requestScope(w, r)
	if !ok {
		return
	}

	count, err := api.Queries.MarkAllRead(ctx, scope, scope.RequesterID)
	if err != nil {
		api.Logger.Error("mark all read failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked_count": count})
}

func (api *NotificationAPI) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := api.Queries.Delete(ctx, r.PathValue("id"))
	if errors.Is(err, notify.ErrNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		api.Logger.Error("delete failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requestScope assembles the query scope from the authenticated identity,
// the gateway's population claim and the optional narrowing parameters.
func (api *NotificationAPI) requestScope(w http.ResponseWriter, r *http.Request) (query.Scope, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return query.Scope{}, false
	}

	q := r.URL.Query()
	scope := query.Scope{
		RequesterID:   userID,
		Population:    query.Population(r.Header.Get(populationHeader)),
		RecipientType: q.Get("recipient_type"),
		Status:        q.Get("status"),
		DateRange:     q.Get("date_range"),
		Search:        q.Get("search"),
	}
	if raw := q.Get("is_read"); raw != "" {
		if isRead, err := strconv.ParseBool(raw); err == nil {
			scope.IsRead = &isRead
		}
	}
	return scope, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func notificationID(n *notify.Notification) string {
	if n == nil {
		return ""
	}
	return n.ID
}
