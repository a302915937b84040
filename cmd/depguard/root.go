package main

import (
	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "depguard",
	Short: "Supply-chain risk analysis for npm and PyPI dependency trees",
	Long: `depguard analyses a project's dependency manifest for supply-chain risk:
known vulnerabilities, malicious packages, obfuscated install scripts,
reputation weakness, and supply-chain-attack indicators. It produces a
package-centric JSON report.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(scanCmd)
}
