package main

import (
	"fmt"
	"os"

	"github.com/smelter-dev/smelter/cmd/smelter/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "smelter",
	Short: "Smelter smart contract deployment",
	Long:  "Deploys the contracts of a DApp project in dependency order and tracks what is already on chain",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.SetupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ProjectDir, "project", "p", ".", "Project directory")
	rootCmd.PersistentFlags().StringVar(&commands.LogFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: \"\" (auto), json or yaml")
}

func main() {
	rootCmd.AddCommand(commands.NewDeployCmd())
	rootCmd.AddCommand(commands.NewTrackingCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
