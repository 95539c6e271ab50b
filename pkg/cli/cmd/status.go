package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/metrics"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const statusCmdLong = `Show the reconciliation records of a running orchestrator.

The records are read from the /records endpoint served by "stageflow run".

Examples:
  # Records of an orchestrator on this machine
  stageflow status

  # Records as JSON
  stageflow status --address http://stageflow.flux-system:9090 --output json`

const (
	defaultStatusAddress = "http://localhost:9090"
	statusTimeout        = 10 * time.Second
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var (
		address string
		output  string
	)

	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show the reconciliation records of a running orchestrator",
		Long:         statusCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := contextWithTimeout(cmd, statusTimeout)
			defer cancel()

			records, err := metrics.FetchRecords(ctx, nil, address)
			if err != nil {
				return fmt.Errorf("read records from %s: %w", address, err)
			}

			return writeStatus(cmd, records, output)
		},
	}

	cmd.Flags().StringVar(&address, "address", defaultStatusAddress, "Base URL of the records endpoint")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")

	return cmd
}

func writeStatus(cmd *cobra.Command, records []driver.Record, output string) error {
	switch output {
	case outputJSON:
		return writeJSON(cmd, records)
	case outputYAML:
		return writeYAML(cmd, records)
	case outputTable:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutput, output)
	}

	ready := 0
	rows := make([][]string, 0, len(records))

	for _, record := range records {
		if record.Health == driver.HealthReady {
			ready++
		}

		rows = append(rows, []string{
			record.Name,
			colorHealth(record.Health),
			orDash(record.Revision),
			strconv.Itoa(record.ConsecutiveFailures),
			formatTime(record.LastAttempt),
			orDash(record.LastError),
		})
	}

	err := writeTable(cmd.OutOrStdout(),
		[]string{"STAGE", "HEALTH", "REVISION", "FAILURES", "LAST ATTEMPT", "LAST ERROR"}, rows)
	if err != nil {
		return err
	}

	if ready == len(records) {
		notify.Successf(cmd.OutOrStdout(), "%d/%d stages ready", ready, len(records))
	} else {
		notify.Warningf(cmd.OutOrStdout(), "%d/%d stages ready", ready, len(records))
	}

	return nil
}

func colorHealth(health driver.Health) string {
	switch health {
	case driver.HealthReady:
		return color.GreenString(string(health))
	case driver.HealthFailed:
		return color.RedString(string(health))
	case driver.HealthProgressing:
		return color.YellowString(string(health))
	case driver.HealthPending:
		return string(health)
	default:
		return string(health)
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}

	return value
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}

	return value.Format(time.RFC3339)
}
