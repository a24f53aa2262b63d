package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "swrd",
		Short: "Demo collection server for the swr cache library",
		Long: `swrd runs a small in-memory todo collection with the JSON contract
expected by pkg/collection, plus the operational endpoints a real
deployment would have:

  • GET/POST /todos, PUT/DELETE /todos/{id}
  • /ws      — invalidation broadcast hub (pkg/broadcast)
  • /metrics — Prometheus metrics

It exists to exercise the library end to end; it is not a product.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
