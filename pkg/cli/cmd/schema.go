package cmd

import (
	"fmt"

	"github.com/cheap-k8s/stageflow/pkg/fsutil"
	"github.com/cheap-k8s/stageflow/pkg/io/schema"
	"github.com/cheap-k8s/stageflow/pkg/utils/notify"
	"github.com/spf13/cobra"
)

// NewSchemaCmd creates the schema command.
func NewSchemaCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:          "schema",
		Short:        "Print the JSON schema of the catalog file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := schema.Generate()
			if err != nil {
				return err
			}

			if outputFile == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				if err != nil {
					return fmt.Errorf("write schema: %w", err)
				}

				return nil
			}

			err = fsutil.TryWriteFile(data, outputFile, true)
			if err != nil {
				return fmt.Errorf("write schema: %w", err)
			}

			notify.Successf(cmd.OutOrStdout(), "wrote %s (%d bytes)", outputFile, len(data))

			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output-file", "f", "", "Write the schema to a file instead of stdout")

	return cmd
}
