// Command cdprelay runs the CDP relay: a local WebSocket broker that
// forwards Chrome DevTools Protocol commands from clients to a single
// privileged Chrome-extension upstream.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile              string
	flagHost             string
	flagPort             int
	flagBearerToken      string
	flagExtensionOrigin  []string
	flagRequestTimeoutMs int
	flagWriteQueueCap    int
	flagLogLevel         string
	flagLogFormat        string
	flagMcpLogRate       float64
	flagLogDropped       bool
)

func main() {
	// A missing .env is not an error; it's the common case outside local dev.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "cdprelay",
		Short: "Local CDP relay between automation clients and a Chrome extension",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flagHost, "host", "", "bind address")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "bind port")
	root.PersistentFlags().StringVar(&flagBearerToken, "bearer-token", "", "bearer token required for /cdp clients, except loopback peers that send no Origin")
	root.PersistentFlags().StringArrayVar(&flagExtensionOrigin, "extension-origin", nil, "allowed Origin for /extension (repeatable)")
	root.PersistentFlags().IntVar(&flagRequestTimeoutMs, "request-timeout-ms", 0, "extension request timeout in milliseconds")
	root.PersistentFlags().IntVar(&flagWriteQueueCap, "write-queue-capacity", 0, "per-socket outbound queue capacity")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "text|json")
	root.PersistentFlags().Float64Var(&flagMcpLogRate, "mcp-log-rate", 0, "requests/minute for /mcp-log, one bucket shared by all sources")
	root.PersistentFlags().BoolVar(&flagLogDropped, "log-dropped-responses", false, "log late extension responses that arrived after their request timed out")

	root.AddCommand(serveCmd())
	root.RunE = func(cmd *cobra.Command, args []string) error { return runServe() }

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
