package main

import (
	"os"

	"github.com/spf13/cobra"

	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Session coordinator for multi-party live video",
	Long:  `WebSocket signaling, SFU rooms and HLS live pipelines. Commands: serve, version.`,
	RunE:  runServe, // default: same as "coordinator serve"
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config", "directory holding config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		l := pkglog.L()
		l.Error().Err(err).Msg("coordinator exited")
		os.Exit(1)
	}
}
