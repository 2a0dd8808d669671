package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/kurogames77/puzzcode-sub003/internal/app"
	"github.com/kurogames77/puzzcode-sub003/internal/config"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainConfiguration(t *testing.T) {
	t.Setenv("PUZZ_ADDR", ":8080")
	t.Setenv("PUZZ_WORKER_COUNT", "4")

	convey.Convey("Given environment overrides", t, func() {
		cfg, err := config.Load(context.Background())

		convey.Convey("Then configuration should be loadable", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})
}

func TestMainInvalidConfiguration(t *testing.T) {
	t.Setenv("PUZZ_STORAGE", "bogus")

	convey.Convey("Given an unknown storage backend", t, func() {
		err := run(context.Background())

		convey.Convey("Then run refuses to start", func() {
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestMainServer(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		ctx := context.Background()
		cfg := config.New()
		svc := app.New(app.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := newServer(cfg, svc)

		convey.Convey("Then the server listens on the configured address", func() {
			convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
			convey.So(srv.WriteTimeout, convey.ShouldEqual, 0)
		})

		convey.Convey("Then health is routed", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the API docs are routed", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then player routes require a token", func() {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/matchmaking/join", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
		})

		convey.Convey("Then a bearer token from the service authenticator is accepted", func() {
			token, err := svc.Authenticator().Issue("p1", time.Minute)
			convey.So(err, convey.ShouldBeNil)
			req := httptest.NewRequest(http.MethodGet, "/matchmaking/status", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestMainShutdownWithOpenStream(t *testing.T) {
	convey.Convey("Given a server with a connected realtime stream", t, func() {
		ctx := context.Background()
		cfg := config.New()
		svc := app.New(app.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := newServer(cfg, svc)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		convey.So(err, convey.ShouldBeNil)
		go func() { _ = srv.Serve(ln) }()

		token, err := svc.Authenticator().Issue("p1", time.Minute)
		convey.So(err, convey.ShouldBeNil)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			"http://"+ln.Addr().String()+"/realtime?access_token="+token, http.NoBody)
		convey.So(err, convey.ShouldBeNil)
		resp, err := http.DefaultClient.Do(req)
		convey.So(err, convey.ShouldBeNil)
		defer resp.Body.Close()
		convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

		convey.Convey("When the server shuts down", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)

			convey.Convey("Then the stream is ended and shutdown completes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(svc.Hub().Clients(), convey.ShouldEqual, 0)
			})
		})
	})
}

func TestMainRun(t *testing.T) {
	t.Setenv("PUZZ_ADDR", "127.0.0.1:0")

	convey.Convey("Given a running engine", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx) }()
		time.Sleep(100 * time.Millisecond)

		convey.Convey("When the root context is cancelled", func() {
			cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestMainMetrics(t *testing.T) {
	convey.Convey("Given the metrics updaters", t, func() {
		convey.Convey("Then a system update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the updaters return when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)

			svc := app.New()
			convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then a separate metrics manager registers on its own registry", func() {
			manager := metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
			convey.So(manager, convey.ShouldNotBeNil)
		})
	})
}
