package cmd

import (
	"fmt"

	"github.com/cheap-k8s/stageflow/pkg/di"
	"github.com/cheap-k8s/stageflow/pkg/fsutil"
	"github.com/cheap-k8s/stageflow/pkg/io/generator/flux"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	"github.com/spf13/cobra"
)

const exportCmdLong = `Render the stage graph as Flux manifests.

Each repository becomes a GitRepository named git-repository-{name} and each
stage a Kustomization carrying the stage interval, timeout, retry interval,
prune, force, wait and dependsOn settings. Secret copy stages have no Flux
counterpart and are not exported.

Examples:
  # Print the manifests
  stageflow export

  # Write them to a file
  stageflow export --output-file ./clusters/production/stageflow.yaml`

// NewExportCmd creates the export command.
func NewExportCmd(runtime *di.Runtime) *cobra.Command {
	var (
		outputFile string
		force      bool
	)

	cmd := &cobra.Command{
		Use:          "export",
		Short:        "Render the stage graph as Flux manifests",
		Long:         exportCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&outputFile, "output-file", "f", "", "Write the manifests to a file instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing output file")

	cmd.RunE = runWithModel(runtime, func(cmd *cobra.Command, _ di.Injector, model *di.Model) error {
		graph, err := planner.PlanCatalog(model.Catalog)
		if err != nil {
			return err
		}

		manifests, err := flux.NewGenerator().Generate(
			flux.Model{Graph: graph, Registry: model.Registry},
			flux.Options{
				Namespace:      model.Config.Spec.SystemNamespace,
				SourceInterval: model.Config.Spec.Defaults.SourceInterval.Duration,
			},
		)
		if err != nil {
			return fmt.Errorf("export flux manifests: %w", err)
		}

		if outputFile == "" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), manifests)
			if err != nil {
				return fmt.Errorf("write manifests: %w", err)
			}

			return nil
		}

		err = fsutil.TryWriteFile([]byte(manifests), outputFile, force)
		if err != nil {
			return fmt.Errorf("write manifests: %w", err)
		}

		notify.Successf(cmd.OutOrStdout(), "exported %d stages to %s", graph.Len(), outputFile)

		return nil
	})

	return cmd
}
