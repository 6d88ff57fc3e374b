package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentbus/config"
	"github.com/hupe1980/agentbus/core"
	"github.com/hupe1980/agentbus/observer"
)

type runFlags struct {
	config      string
	input       string
	metricsAddr string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline once and print its output as JSON",
		Example: `  agentbus run --config pipeline.yaml --input "AIGNE is a No-code Generative AI Apps Engine"
  agentbus run --config pipeline.yaml --input '{"product": "widget"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, g, f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "pipeline file (YAML)")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "input text, or a JSON object")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPipeline(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()
	logger := g.logger(cmd.ErrOrStderr())

	p, err := config.Load(f.config)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	obs := core.MultiObserver{
		core.NewLogObserver(logger.WithComponent("observer")),
		observer.NewPrometheus(observer.WithRegisterer(reg)),
	}

	if f.metricsAddr != "" {
		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("cli.metrics.failed", "addr", f.metricsAddr, "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	rt, err := config.Build(ctx, p, func(o *config.BuildOptions) {
		o.Logger = logger.WithComponent("engine")
		o.Observer = obs
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			logger.Warn("cli.shutdown.failed", "error", err.Error())
		}
	}()

	done := logger.StartTimer("pipeline run")
	res, err := rt.Run(ctx, parseInput(f.input))
	done()
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), res.Output)
}

// parseInput treats input that parses as a JSON object as a message and
// anything else as text.
func parseInput(input string) any {
	var msg core.Message
	if err := json.Unmarshal([]byte(input), &msg); err == nil && msg != nil {
		return msg
	}
	return input
}
