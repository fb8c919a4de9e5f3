package cmd

import (
	"github.com/ostafen/udfkit/internal/logger"
	"github.com/spf13/cobra"
)

const AppName = "udfkit"

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: AppName + " - a read/write UDF (ECMA-167) filesystem toolkit",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			logger.Configure(logger.ParseLevel(level))
		},
	}

	rootCmd.PersistentFlags().String("log-level", "INFO", "log level: DEBUG, INFO, WARN, or ERROR")

	rootCmd.AddCommand(DefineMountCommand())
	rootCmd.AddCommand(DefineLsCommand())
	rootCmd.AddCommand(DefineCatCommand())
	rootCmd.AddCommand(DefineCheckCommand())
	rootCmd.AddCommand(DefineInfoCommand())

	return rootCmd.Execute()
}
