package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
)

func (a *App) healthzHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\"}")
}

func (a *App) readyzHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if a.store == nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		_, _ = ctx.WriteString("{\"status\":\"not ready\"}")
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\",\"run_id\":\"" + a.runID + "\"}")
}

// startHTTP starts the health/metrics listener, returning a channel that
// delivers a fatal listener error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())

	handler := func(rctx *fasthttp.RequestCtx) {
		switch string(rctx.Path()) {
		case "/healthz":
			a.healthzHandler(rctx)
		case "/readyz":
			a.readyzHandler(rctx)
		case "/metrics":
			metricsHandler(rctx)
		default:
			rctx.SetStatusCode(fasthttp.StatusNotFound)
			rctx.SetContentType("application/json")
			_, _ = rctx.WriteString("{\"error\":\"not found\"}")
		}
	}

	srv := &fasthttp.Server{
		Handler:           handler,
		ReadBufferSize:    16 * 1024,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReduceMemoryUsage: true,
	}

	httpCtx, cancel := context.WithCancel(ctx)
	a.httpCancel = cancel

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(a.cfg.Addr())
	}()
	go func() {
		<-httpCtx.Done()
		if err := srv.Shutdown(); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
	}()
	return errCh
}
