package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"roiwatch/internal/httpapi"
	"roiwatch/internal/logging"
	"roiwatch/internal/services"
	"roiwatch/internal/ws"
)

// newHTTPServer builds the muxer with the control API and the WebSocket
// endpoint, wrapped in the request logging and id middlewares.
func newHTTPServer(ctrl *services.Controller, health *services.Health, hub *ws.Hub, logger *zap.SugaredLogger, debug bool) http.Handler {
	// Setup goa log adapter.
	var adapter middleware.Logger = logging.NewGoaAdapter(logger.Named("http"))

	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	api := httpapi.New(ctrl, health, logger)
	api.Mount(mux)
	mux.Handle("GET", "/ws", ws.NewHandler(hub).ServeHTTP)

	for _, m := range api.Mounts {
		logger.Debugw("HTTP mounted", "method", m.Method, "verb", m.Verb, "pattern", m.Pattern)
	}
	logger.Debugw("HTTP mounted", "method", "Stream", "verb", "GET", "pattern", "/ws")

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = httpmdlwr.Log(adapter)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}
	return handler
}

// handleHTTPServer starts the HTTP server on addr. It shuts the server down
// when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error, logger *zap.SugaredLogger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Infow("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Infow("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnw("failed to shutdown HTTP server", "error", err)
		}
	}()
}
