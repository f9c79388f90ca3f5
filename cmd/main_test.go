package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	app "github.com/okian/keyguard/internal/app"
	"github.com/okian/keyguard/internal/config"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When configuration comes from the environment", func() {
			t.Setenv("KEYGUARD_ADDR", ":8080")
			t.Setenv("KEYGUARD_QUEUE_SIZE", "1000")
			t.Setenv("KEYGUARD_WORKER_COUNT", "4")

			convey.Convey("Then it should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the routes are built", func() {
			ctx := context.Background()
			cfg := config.New()
			cfg.WorkerCount = 1
			svc := app.New(append(app.FromConfig(cfg), app.WithLogger(logger.NewNop()))...)
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			convey.Reset(svc.Stop)

			mux, err := newMux(ctx, svc, cfg, logger.NewNop())
			convey.So(err, convey.ShouldBeNil)

			get := func(path string) int {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				return w.Code
			}

			convey.Convey("Then every surface should be reachable", func() {
				convey.So(get("/"), convey.ShouldEqual, http.StatusOK)
				convey.So(get("/api-docs"), convey.ShouldEqual, http.StatusOK)
				convey.So(get("/openapi.yaml"), convey.ShouldEqual, http.StatusOK)
				convey.So(get("/stats"), convey.ShouldEqual, http.StatusOK)
				convey.So(get("/healthz"), convey.ShouldEqual, http.StatusOK)
				convey.So(get("/profiles/nobody"), convey.ShouldEqual, http.StatusNotFound)
			})

			convey.Convey("And the configured event cap should apply", func() {
				cfg.MaxEvents = 1
				capped, err := newMux(ctx, svc, cfg, logger.NewNop())
				convey.So(err, convey.ShouldBeNil)

				body := `{"events":[{"type":"keydown","key":"a","ts":1},{"type":"keyup","key":"a","ts":2}]}`
				w := httptest.NewRecorder()
				capped.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body)))
				convey.So(w.Code, convey.ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metric updaters", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		svc := app.New(app.WithWorkerCount(1), app.WithLogger(logger.NewNop()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.Reset(func() {
			cancel()
			svc.Stop()
		})

		convey.Convey("Then a single update should not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loops should exit on cancel", func() {
			done := make(chan struct{}, 2)
			go func() { startSystemMetricsUpdater(ctx); done <- struct{}{} }()
			go func() { startServiceMetricsUpdater(ctx, svc); done <- struct{}{} }()
			cancel()

			for i := 0; i < 2; i++ {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					t.Fatal("updater did not stop")
				}
			}
		})
	})
}

func TestWatchConfig(t *testing.T) {
	convey.Convey("Given a service watching its config file", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "keyguard.yaml")
		convey.So(os.WriteFile(path, []byte("accept_threshold: 0.70\nreview_threshold: 0.55\n"), 0o600), convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		svc := app.New(app.WithWorkerCount(1), app.WithLogger(logger.NewNop()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.Reset(func() {
			cancel()
			svc.Stop()
		})

		go watchConfig(ctx, path, svc, logger.NewNop())
		// let the watcher register before the write
		time.Sleep(100 * time.Millisecond)

		convey.Convey("When new thresholds are written", func() {
			convey.So(os.WriteFile(path, []byte("accept_threshold: 0.80\nreview_threshold: 0.60\n"), 0o600), convey.ShouldBeNil)

			convey.Convey("Then they should take effect without a restart", func() {
				deadline := time.Now().Add(3 * time.Second)
				for time.Now().Before(deadline) && svc.Thresholds().Accept != 0.80 {
					time.Sleep(20 * time.Millisecond)
				}
				convey.So(svc.Thresholds().Accept, convey.ShouldEqual, 0.80)
				convey.So(svc.Thresholds().Review, convey.ShouldEqual, 0.60)
			})
		})
	})
}
