package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saltyhash/docpipe/internal/config"
)

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config",
	Short: "Print an example pipeline configuration",
	Long: `Prints a complete pipeline configuration in YAML, suitable as a
starting point for docpipe run -f.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.MarshalExample()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exampleConfigCmd)
}
