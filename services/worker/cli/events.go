package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/kafka"
	"github.com/ramiqadoumi/go-audit-jobs/services/worker/config"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail job lifecycle events from Kafka",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().String("queue", "", "only show events of this queue")
	eventsCmd.Flags().String("job", "", "only show events of this job id")
	eventsCmd.Flags().Bool("from-beginning", false, "read the topic from the first retained event")
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if len(cfg.Core.KafkaBrokers) == 0 {
		return fmt.Errorf("events needs kafka_brokers")
	}
	logger := buildLogger(cfg.LogLevel, "events")

	queue, _ := cmd.Flags().GetString("queue")
	jobID, _ := cmd.Flags().GetString("job")
	fromStart, _ := cmd.Flags().GetBool("from-beginning")

	start := kafka.LastOffset
	if fromStart {
		start = kafka.FirstOffset
	}
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.Core.KafkaBrokers,
		Topic:       cfg.Core.EventsTopic,
		StartOffset: start,
	}, logger)
	defer func() { _ = consumer.Close() }()

	ctx, cancel := signalContext(logger)
	defer cancel()
	return consumer.Subscribe(ctx, printEvent(os.Stdout, queue, jobID))
}

// printEvent writes one line per matching event. Undecodable messages are
// skipped so a tail never stalls on them.
func printEvent(w io.Writer, queue, jobID string) kafka.HandlerFunc {
	return func(_ context.Context, msg kafka.Message) error {
		var e domain.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			return nil
		}
		if (queue != "" && e.Queue != queue) || (jobID != "" && e.JobID != jobID) {
			return nil
		}
		line := fmt.Sprintf("%s %-13s %-9s %s %s", e.At.Format("15:04:05.000"), e.Queue, e.Type, e.JobID, e.JobType)
		switch {
		case e.Type == domain.EventProgress:
			line += fmt.Sprintf(" %d%%", e.Progress)
		case e.Error != "":
			line += fmt.Sprintf(" attempt=%d terminal=%t error=%q", e.Attempt, e.Terminal, e.Error)
		}
		if e.Degraded {
			line += " [inline]"
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}
