package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "hitwire",
	Short: "Send HTTP requests and see every hop.",
	Long: `hitwire executes HTTP requests with manual redirect handling, proxy
and TLS policy per hop, and a curl-like timeline of everything that
happened on the wire.`,
	SilenceUsage: true,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if !exitErr.Silent {
				fmt.Fprintln(os.Stderr, "Error:", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitUsageError)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(proxyCheckCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(recordProxyCmd)
	rootCmd.AddCommand(versionCmd)
}
