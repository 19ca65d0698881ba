package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/go-audit-jobs/internal/kafka"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
	"github.com/ramiqadoumi/go-audit-jobs/services/dispatcher"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Consume job submissions from Kafka and enqueue them",
	Long: `Consume {queue, job_type, payload, options} messages from the submit
topic and submit each to its queue. Malformed, rejected and rate-limited
messages are published to the DLQ topic.`,
	PreRun: bindLocal("metrics_addr", "metrics-addr"),
	RunE:   runDispatch,
}

func init() {
	dispatchCmd.Flags().String("submit-topic", "jobs.submit", "Kafka topic carrying job submissions")
	dispatchCmd.Flags().String("group-id", "go-audit-jobs-dispatcher", "Kafka consumer group")
	dispatchCmd.Flags().String("metrics-addr", ":9093", "Prometheus metrics server address")

	bindFlag("submit_topic", dispatchCmd.Flags(), "submit-topic")
	bindFlag("dispatch_group", dispatchCmd.Flags(), "group-id")
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	c, err := startCore("dispatcher")
	if err != nil {
		return err
	}
	defer c.Close()

	if len(c.cfg.Core.KafkaBrokers) == 0 || c.app.Producer == nil {
		return fmt.Errorf("dispatch needs kafka_brokers")
	}
	groupID, _ := cmd.Flags().GetString("group-id")

	runCtx, runCancel := signalContext(c.logger)
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, c.cfg.MetricsAddr, c.app.Ready, c.logger)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: c.cfg.Core.KafkaBrokers,
		Topic:   c.cfg.SubmitTopic,
		GroupID: groupID,
	}, c.logger)
	defer func() { _ = consumer.Close() }()

	d := dispatcher.NewDispatcher(consumer, c.app.Producer, c.cfg.Core.DLQTopic, c.app.Manager, c.app.Limiter, c.logger)

	c.logger.Info("dispatcher starting",
		slog.String("topic", c.cfg.SubmitTopic),
		slog.String("group_id", groupID),
		slog.String("dlq_topic", c.cfg.Core.DLQTopic),
		slog.Bool("rate_limited", c.app.Limiter != nil),
	)

	if err := d.Run(runCtx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	// Submissions that ran inline while Redis was down.
	c.app.Wait()
	c.logger.Info("stopped")
	return nil
}
