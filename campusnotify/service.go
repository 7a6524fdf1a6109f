// Package campusnotify assembles the notification fan-out service: the
// ingestion pipeline, the dispatch core and the query API.
package campusnotify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-campus-notify/campusnotify/config"
	"github.com/tinywideclouds/go-campus-notify/internal/api"
	"github.com/tinywideclouds/go-campus-notify/internal/fanout"
	"github.com/tinywideclouds/go-campus-notify/internal/pipeline"
	"github.com/tinywideclouds/go-campus-notify/internal/query"
	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[fanout.CreateRequest]
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	gateway dispatch.Gateway,
	store notify.Store,
	tokenStore dispatch.TokenStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatch core
	resolver := fanout.NewResolver(tokenStore)
	dispatcher := fanout.NewDispatcher(store, gateway, resolver, tokenStore, logger)
	queries := query.NewService(store, query.NewFilterBuilder(), logger)

	// 3. Ingestion pipeline
	processor := pipeline.NewProcessor(dispatcher, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.CreateRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	notificationAPI := api.NewNotificationAPI(dispatcher, queries, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/notifications", notificationAPI.Create)
	handle("GET /api/v1/notifications", notificationAPI.List)
	handle("GET /api/v1/notifications/{id}", notificationAPI.Get)
	handle("POST /api/v1/notifications/{id}/read", notificationAPI.MarkRead)
	handle("POST /api/v1/notifications/read-all", notificationAPI.MarkAllRead)
	handle("DELETE /api/v1/notifications/{id}", notificationAPI.Delete)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
