package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/keyguard/internal/config"
)

var configEnvVars = []string{
	"KEYGUARD_CONFIG",
	"KEYGUARD_ADDR",
	"KEYGUARD_QUEUE_SIZE",
	"KEYGUARD_WORKER_COUNT",
	"KEYGUARD_STORE_DRIVER",
	"KEYGUARD_ACCEPT_THRESHOLD",
	"KEYGUARD_REVIEW_THRESHOLD",
	"KEYGUARD_MIN_ENROLL_CHARS",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "keyguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("KEYGUARD_ADDR", ":8080")
			_ = os.Setenv("KEYGUARD_QUEUE_SIZE", "500")
			_ = os.Setenv("KEYGUARD_WORKER_COUNT", "3")
			_ = os.Setenv("KEYGUARD_ACCEPT_THRESHOLD", "0.8")
			_ = os.Setenv("KEYGUARD_MIN_ENROLL_CHARS", "10")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.AcceptThreshold, convey.ShouldEqual, 0.8)
				convey.So(cfg.ReviewThreshold, convey.ShouldEqual, 0.55)
				convey.So(cfg.MinEnrollChars, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with a YAML file and env override", func() {
			path := writeConfig(t, t.TempDir(), `
addr: ":9090"
store_driver: sqlite
db_path: /tmp/kg.db
accept_threshold: 0.75
review_threshold: 0.6
`)
			_ = os.Setenv("KEYGUARD_CONFIG", path)
			_ = os.Setenv("KEYGUARD_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env should win over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.DBPath, convey.ShouldEqual, "/tmp/kg.db")
				convey.So(cfg.Thresholds().Accept, convey.ShouldEqual, 0.75)
				convey.So(cfg.Thresholds().Review, convey.ShouldEqual, 0.6)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("KEYGUARD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then it should fail with ErrLoadConfig", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file holds inconsistent thresholds", func() {
			path := writeConfig(t, t.TempDir(), "accept_threshold: 0.5\nreview_threshold: 0.6\n")
			_, err := config.LoadFile(ctx, path)

			convey.Convey("Then it should fail validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWatch(t *testing.T) {
	convey.Convey("Given a watched config file", t, func() {
		clearConfigEnvVars()
		dir := t.TempDir()
		path := writeConfig(t, dir, "accept_threshold: 0.7\n")

		var (
			mu      sync.Mutex
			changes []*config.Config
			errs    []error
		)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- config.Watch(ctx, path, 20*time.Millisecond,
				func(c *config.Config) { mu.Lock(); changes = append(changes, c); mu.Unlock() },
				func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() })
		}()
		convey.Reset(func() {
			cancel()
			<-done
		})
		// give the watcher time to register the directory
		time.Sleep(100 * time.Millisecond)

		convey.Convey("When the file is rewritten", func() {
			writeConfig(t, dir, "accept_threshold: 0.8\nlog_level: debug\n")

			convey.Convey("Then the new config should be delivered", func() {
				deadline := time.Now().Add(3 * time.Second)
				for time.Now().Before(deadline) {
					mu.Lock()
					n := len(changes)
					mu.Unlock()
					if n > 0 {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				mu.Lock()
				defer mu.Unlock()
				convey.So(changes, convey.ShouldNotBeEmpty)
				last := changes[len(changes)-1]
				convey.So(last.AcceptThreshold, convey.ShouldEqual, 0.8)
				convey.So(last.LogLevel, convey.ShouldEqual, "debug")
			})
		})
	})
}
