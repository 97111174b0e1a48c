package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/config"
)

// NewSchemaCmd prints the JSON Schema of the configuration file.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of synctray.toml / synctray.yml",
		Long: `Print the JSON Schema the configuration is validated against. Editors with
schema support can use it for completion:

  synctray schema > ~/.config/synctray/synctray.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
