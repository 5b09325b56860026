package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/evrins/wsterm/config"
	"github.com/evrins/wsterm/service"
	"github.com/evrins/wsterm/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var command = utils.GetEnv("SHELL", "bash")

var runCmd = &cobra.Command{
	Use:   "run [Command]",
	Short: fmt.Sprintf("Run specified command (default \"%s\")", command),
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := config.Load()
		if err != nil {
			return
		}
		if len(args) > 0 {
			cfg.Command = args[0]
		}
		if err = applyFlags(cmd.PersistentFlags(), &cfg); err != nil {
			return
		}
		if err = cfg.Validate(); err != nil {
			return
		}

		logger := cfg.NewLogger(os.Stderr)
		return service.StartWebService(cfg, logger)
	},
}

// applyFlags overrides the environment with the flags given on the command
// line.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) (err error) {
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("port", func() (e error) { cfg.Port, e = flags.GetInt("port"); return })
	set("addr", func() (e error) { cfg.Addr, e = flags.GetString("addr"); return })
	set("font", func() (e error) { cfg.Font, e = flags.GetString("font"); return })
	set("font-size", func() (e error) { cfg.FontSize, e = flags.GetString("font-size"); return })
	set("view", func() (e error) { cfg.View, e = flags.GetBool("view"); return })
	set("ping-interval", func() (e error) { cfg.PingInterval, e = flags.GetDuration("ping-interval"); return })
	set("ping-timeout", func() (e error) { cfg.PingTimeout, e = flags.GetDuration("ping-timeout"); return })
	set("max-message-size", func() (e error) { cfg.MaxMessageSize, e = flags.GetInt64("max-message-size"); return })
	set("compression", func() (e error) { cfg.Compression, e = flags.GetBool("compression"); return })
	set("compression-level", func() (e error) { cfg.CompressionLevel, e = flags.GetInt("compression-level"); return })
	set("max-connections", func() (e error) { cfg.MaxConnections, e = flags.GetInt("max-connections"); return })
	set("allow-origin", func() (e error) { cfg.AllowedOrigins, e = flags.GetStringSlice("allow-origin"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	set("consul", func() (e error) { cfg.ConsulAddr, e = flags.GetString("consul"); return })
	set("history-db", func() (e error) { cfg.HistoryDB, e = flags.GetString("history-db"); return })
	set("static-dir", func() (e error) { cfg.StaticDir, e = flags.GetString("static-dir"); return })
	return
}

func init() {
	flags := runCmd.PersistentFlags()
	flags.IntP("port", "p", 9999, "server port")
	flags.StringP("addr", "a", "localhost", "server address")
	flags.String("font", "", "font")
	flags.String("font-size", "", "font size")
	flags.BoolP("view", "v", false, "open browser")
	flags.Duration("ping-interval", 0, "websocket ping interval, 0 disables pings")
	flags.Duration("ping-timeout", -time.Second, "time to wait for a pong, negative means the ping interval")
	flags.Int64("max-message-size", 10<<20, "maximum size of an incoming message")
	flags.Bool("compression", false, "enable permessage-deflate")
	flags.Int("compression-level", 6, "deflate compression level")
	flags.Int("max-connections", 256, "maximum number of concurrent terminals")
	flags.StringSlice("allow-origin", nil, "additional allowed origins, * for any")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("consul", "", "consul agent address to register with")
	flags.String("history-db", "", "path of the session history database")
	flags.String("static-dir", "", "directory with client files overriding the embedded ones")
	rootCmd.AddCommand(runCmd)
}
