package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tomharrigan/phalanx/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "phalanx",
	Short: "Parallel agent execution orchestrator",
	Long: `Phalanx executes an approved plan of themed agents against a git
repository. Parallel phases fan agents out into isolated worktrees under a
concurrency limit and merge their branches back phase by phase; sequential
phases run agents one at a time on the trunk.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/phalanx/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PHALANX")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PHALANX_ORCHESTRATOR_MAX_PARALLEL for orchestrator.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
