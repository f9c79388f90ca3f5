package testevents

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/keyguard/pkg/logger"
)

// Default configuration constants.
const (
	defaultTypists          = 50
	defaultSamplesPerTypist = 3
	defaultVerifyPerTypist  = 3
	defaultSampleChars      = 80
	defaultWorkers          = 2 // multiplier for runtime.NumCPU()
	defaultTimeout          = 30 * time.Second
	defaultRunTimeout       = 10 * time.Minute
)

// SetupLogging initializes the global logger, teeing to logFile when set.
func SetupLogging(logFile string) error {
	var outputs []string
	if logFile != "" {
		outputs = append(outputs, logFile)
	}
	if err := logger.Init(outputs...); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	}
	return nil
}

// NewCommand builds the test-events command.
func NewCommand() *cobra.Command {
	cfg := &Config{}
	var runTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "test-events",
		Short: "Drive enrollment and verification load against a keyguard service",
		Long: `Generates synthetic typists, enrolls each of them, then sends genuine,
impostor and pasted samples to /verify and (with --answers) queued answers
to /answers. The verdict mix per scenario is reported at the end.`,
		Example: `  test-events --typists 200 --workers 16 --url http://localhost:9080
  test-events --answers --output report.json --log run.log`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := SetupLogging(cfg.LogFile); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()

			_, err := Run(ctx, cfg)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVar(&cfg.Typists, "typists", defaultTypists, "number of synthetic typists")
	f.IntVar(&cfg.SamplesPerTypist, "samples", defaultSamplesPerTypist, "enrollment samples per typist")
	f.IntVar(&cfg.VerifyPerTypist, "verify", defaultVerifyPerTypist, "genuine verifications per typist")
	f.IntVar(&cfg.SampleChars, "chars", defaultSampleChars, "characters typed per sample")
	f.BoolVar(&cfg.Answers, "answers", false, "also exercise the async /answers path")
	f.DurationVar(&cfg.AnswerWait, "answer-wait", DefaultAnswerWait, "how long to wait for async answer verdicts")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.Uint64Var(&cfg.Seed, "seed", 0, "seed for the synthetic typists (0 picks one)")
	f.StringVar(&cfg.OutputFile, "output", "", "write the JSON run report to this file")
	f.StringVar(&cfg.LogFile, "log", "", "also write logs to this file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every rejected request")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "overall deadline for the run")
	return cmd
}
