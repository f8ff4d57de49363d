package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-whisper/internal/metrics"
	"github.com/chaz8081/gostt-whisper/internal/service"
	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		flags        decodeFlags
		embedded     bool
		embeddedPort int
		queueSize    int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer transcription requests over NATS",
		Long: `Subscribe to nats.subject in the nats.queue group and reply to each
request (a WAV body) with a JSON transcript. Requests are transcribed one at
a time by a single worker that owns the engine process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			natsURL := cfg.NATS.URL
			if embedded {
				srv, err := service.StartEmbedded("127.0.0.1", embeddedPort, a.logger)
				if err != nil {
					return err
				}
				defer srv.Shutdown()
				natsURL = srv.ClientURL()
			}

			p, err := a.openPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			var obs transcribe.Observer
			if cfg.Metrics.Addr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				m := metrics.New(reg)
				obs = m

				httpSrv := a.startMetrics(cfg.Metrics.Addr, m)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					httpSrv.Shutdown(shutdownCtx)
				}()
			}

			worker := transcribe.NewWorker(p, transcribe.WorkerOptions{
				QueueSize: queueSize,
				Observer:  obs,
				Logger:    a.logger,
			})
			defer worker.Close()

			conn, err := service.Connect(natsURL, a.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := service.New(ctx, conn, worker, service.Options{
				Subject:        cfg.NATS.Subject,
				Queue:          cfg.NATS.Queue,
				RequestTimeout: cfg.NATS.RequestTimeout,
				Logger:         a.logger,
			})
			if err := svc.Start(); err != nil {
				return err
			}

			a.logger.Info("ready", "subject", cfg.NATS.Subject, "queue", cfg.NATS.Queue)
			<-ctx.Done()
			a.logger.Info("shutting down")
			svc.Close()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&embedded, "embedded-nats", false, "run an in-process NATS server instead of dialing nats.url")
	cmd.Flags().IntVar(&embeddedPort, "embedded-port", 4222, "port for the embedded NATS server")
	cmd.Flags().IntVar(&queueSize, "queue-size", 16, "requests buffered ahead of the worker")
	return cmd
}

func (a *app) startMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("metrics endpoint listening", "addr", addr)
	return srv
}
