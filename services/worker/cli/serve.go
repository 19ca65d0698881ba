package cli

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
	"github.com/ramiqadoumi/go-audit-jobs/services/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short:  "Run the worker pools, the scheduler and the REST API",
	PreRun: bindLocal("http_port", "http-port", "metrics_addr", "metrics-addr"),
	RunE:   runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port; empty disables the REST API")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	serveCmd.Flags().Duration("poll-interval", 200*time.Millisecond, "idle poll interval of each queue pool")
	serveCmd.Flags().Duration("result-ttl", 24*time.Hour, "how long ETL results stay in the cache")

	bindFlag("poll_interval", serveCmd.Flags(), "poll-interval")
	bindFlag("result_ttl", serveCmd.Flags(), "result-ttl")
}

func runServe(_ *cobra.Command, _ []string) error {
	c, err := startCore("worker")
	if err != nil {
		return err
	}
	defer c.Close()

	runCtx, runCancel := signalContext(c.logger)
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, c.cfg.MetricsAddr, c.app.Ready, c.logger)

	sched := scheduler.NewScheduler(c.app.Manager, c.app.Redis, c.workerID, c.logger)
	for _, s := range c.cfg.Schedules {
		if err := sched.Add(s); err != nil {
			return err
		}
	}

	queues := make([]string, 0)
	for _, d := range c.app.Manager.Queues() {
		queues = append(queues, d.Name)
	}
	c.logger.Info("worker starting",
		slog.Any("queues", queues),
		slog.Bool("degraded", c.app.Manager.Degraded()),
		slog.Int("schedules", len(c.cfg.Schedules)),
	)

	c.app.Start(runCtx)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if len(c.cfg.Schedules) > 0 {
			sched.Run(runCtx)
		}
	}()

	var srv *http.Server
	if c.cfg.HTTPPort != "" {
		srv = newHTTPServer(c, c.cfg.HTTPPort)
		go listen(srv, c.logger, runCancel)
	}

	<-runCtx.Done()
	if srv != nil {
		shutdownHTTP(srv, c.logger)
	}
	<-schedDone
	c.app.Wait()
	c.logger.Info("stopped cleanly")
	return nil
}
