package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hamzashaikhcan/user-data-api/pkg/config"
)

// 构建时通过 -ldflags 注入
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve [-c config_file]",
		Short: "Start the user data API server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("redis") {
				v.Set("redis.enabled", true)
			}
			return serve(cmd.Context(), v, configPath)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	fs := serveCmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "config file (default ./config/api_server.yaml)")
	fs.Int("port", 0, "HTTP port")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text or json)")
	fs.String("redis", "", "Redis address host:port, enables the Redis job queues")
	_ = v.BindPFlag("server.port", fs.Lookup("port"))
	_ = v.BindPFlag("logger.level", fs.Lookup("log-level"))
	_ = v.BindPFlag("logger.format", fs.Lookup("log-format"))
	_ = v.BindPFlag("redis.addr", fs.Lookup("redis"))

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "api_server %s (commit %s, built %s, %s)\n",
				version, commit, buildTime, runtime.Version())
		},
	}

	rootCmd := &cobra.Command{
		Use:          "api_server",
		Short:        "User data API with a request coalescing cache and two-tier rate limiting.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}
