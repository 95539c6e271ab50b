package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const planCmdLong = `Print the stage graph of the catalog in dependency order.

Every target expands into an optional pre stage, the apply stage and an optional
post stage. Dependency cycles and unknown dependsOn references are reported as
an invalid plan.

Examples:
  # Show the stages of ./stageflow.yaml
  stageflow plan

  # Print the graph as YAML
  stageflow plan --output yaml`

// Output formats shared by plan and status.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// NewPlanCmd creates the plan command.
func NewPlanCmd(runtime *di.Runtime) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:          "plan",
		Short:        "Print the stage graph of the catalog",
		Long:         planCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")

	cmd.RunE = runWithModel(runtime, func(cmd *cobra.Command, _ di.Injector, model *di.Model) error {
		graph, err := planner.PlanCatalog(model.Catalog)
		if err != nil {
			return err
		}

		return writePlan(cmd, graph, output)
	})

	return cmd
}

func writePlan(cmd *cobra.Command, graph *planner.Graph, output string) error {
	ordered := make([]planner.Stage, 0, graph.Len())
	for _, id := range graph.TopologicalOrder() {
		stage, _ := graph.Stage(id)
		ordered = append(ordered, stage)
	}

	switch output {
	case outputJSON:
		return writeJSON(cmd, ordered)
	case outputYAML:
		return writeYAML(cmd, ordered)
	case outputTable:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutput, output)
	}

	notify.Titlef(cmd.OutOrStdout(), "🗺️", "Stage graph (%d stages)", graph.Len())

	rows := make([][]string, 0, len(ordered))
	for _, stage := range ordered {
		rows = append(rows, []string{
			stage.Name(),
			string(stage.ID.Kind),
			stage.Namespace,
			stageSource(stage),
			dependencyNames(stage.DependsOn),
		})
	}

	return writeTable(cmd.OutOrStdout(), []string{"STAGE", "KIND", "NAMESPACE", "SOURCE", "DEPENDS ON"}, rows)
}

func stageSource(stage planner.Stage) string {
	if stage.Copy != nil {
		return "secret " + stage.Copy.FromNamespace + "/" + stage.Copy.FromName
	}

	return stage.Path
}

func dependencyNames(ids []planner.ID) string {
	if len(ids) == 0 {
		return "-"
	}

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}

	return strings.Join(names, ", ")
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

func writeYAML(cmd *cobra.Command, value any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(data)
	if err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}

	return nil
}
