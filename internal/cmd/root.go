package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saltyhash/docpipe/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Two-stage content pipeline orchestrator",
	Long: `Docpipe orchestrates external generator tools through a two-stage
content pipeline: an idea-generation stage that proposes topics, a human
selection step, and a document-generation stage that writes one document
per selected topic.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/docpipe/docpipe.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("docpipe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/docpipe")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DOCPIPE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., DOCPIPE_IDEA_TOOL_COMMAND for idea_tool.command
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
