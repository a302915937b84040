// Command depguard analyses a local project's dependency manifest(s) for
// supply-chain risk and prints the resulting report.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
