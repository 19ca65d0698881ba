package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
	"github.com/ramiqadoumi/go-audit-jobs/services/api-gateway/handler"
	"github.com/ramiqadoumi/go-audit-jobs/services/api-gateway/middleware"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the REST API without running worker pools",
	Long: `Serve the REST API over the shared Redis ledger.

Jobs submitted here are processed by 'worker serve' instances. When Redis
is unreachable the gateway runs submissions inline.`,
	PreRun: bindLocal("http_port", "http-port", "metrics_addr", "metrics-addr"),
	RunE:   runGateway,
}

func init() {
	gatewayCmd.Flags().String("http-port", "8080", "HTTP server port")
	gatewayCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
}

func runGateway(_ *cobra.Command, _ []string) error {
	c, err := startCore("gateway")
	if err != nil {
		return err
	}
	defer c.Close()

	runCtx, runCancel := signalContext(c.logger)
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, c.cfg.MetricsAddr, c.app.Ready, c.logger)

	srv := newHTTPServer(c, c.cfg.HTTPPort)
	go listen(srv, c.logger, runCancel)

	<-runCtx.Done()
	shutdownHTTP(srv, c.logger)
	c.app.Wait()
	c.logger.Info("stopped")
	return nil
}

func newHTTPServer(c *core, port string) *http.Server {
	h := handler.NewREST(c.app.Manager, c.app.History, c.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(c.logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	h.Routes(r)

	return &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func listen(srv *http.Server, logger *slog.Logger, stop context.CancelFunc) {
	logger.Info("HTTP starting", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", slog.String("error", err.Error()))
		stop()
	}
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
}
