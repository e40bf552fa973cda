package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbot/internal/app"
	"taskbot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "taskbot",
	Short:         "Scheduled Telegram deliveries with an HTTP admin API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(serveCmd(), tasksCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "path to config yaml (defaults only when empty)")
	pf.String("log-level", "", "override logging.level")
	pf.String("storage-path", "", "override storage.path")
	for _, name := range []string{"config", "log-level", "storage-path"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

// overrides collects flag and TASKBOT_* env values. The bot token is
// env-only so it stays out of process listings.
func overrides() config.Overrides {
	return config.Overrides{
		HTTPAddr:      viper.GetString("http-addr"),
		LogLevel:      viper.GetString("log-level"),
		TelegramToken: viper.GetString("telegram-token"),
		StoragePath:   viper.GetString("storage-path"),
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			a, err := app.NewApp(viper.GetString("config"), overrides())
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			var reason app.StopReason
			select {
			case sig := <-sigs:
				reason = app.StopSIGTERM
				if sig == os.Interrupt {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()
			err = a.Stop(stopCtx, reason)
			if fatal := a.Err(); reason == app.StopFatalError && fatal != nil {
				return fatal
			}
			return err
		},
	}
	cmd.Flags().String("http-addr", "", "override http.addr")
	_ = viper.BindPFlag("http-addr", cmd.Flags().Lookup("http-addr"))
	return cmd
}
