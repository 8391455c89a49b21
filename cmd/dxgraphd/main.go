// Command dxgraphd serves the diagnostic graph subsystem: the REST and
// WebSocket API, and optionally an MCP transport for scribe assistants.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cliniscribe/dxgraph/internal/buildinfo"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dxgraphd",
	Short:         "dxgraphd — diagnostic graph service",
	Version:       fmt.Sprintf("%s (rev %s, built %s)", buildinfo.Version, buildinfo.Revision, buildinfo.BuildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("dxgraphd {{ .Version }}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file (default $DXGRAPH_CONFIG)")

	rootCmd.AddCommand(serveCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dxgraphd:", err)
		os.Exit(1)
	}
}
