package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/linkdata/scgid"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "scgid [flags] -- worker-command [args...]",
		Short:         "SCGI application server core",
		Long:          "scgid accepts framed SCGI requests from a front-end web server and dispatches them to a managed pool of worker processes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, args)
		},
	}

	registerFlags(cmd.Flags())
	bindConfig(v, cmd.Flags())
	return cmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "TOML configuration file")
	flags.String("listen-network", scgid.DefaultListenNetwork, "listen network (tcp or unix)")
	flags.String("listen-addr", scgid.DefaultListenAddr, "listen address")
	flags.Int("min-processes", scgid.DefaultMinProcesses, "minimum pool size")
	flags.Int("max-processes", scgid.DefaultMaxProcesses, "maximum pool size")
	flags.Int("queue-depth", scgid.DefaultQueueDepth, "admission queue depth")
	flags.Duration("idle-timeout", scgid.DefaultIdleTimeout, "idle worker retirement timeout")
	flags.Duration("request-timeout", scgid.DefaultRequestTimeout, "per-request deadline")
	flags.Duration("spawn-backoff-initial", scgid.DefaultSpawnBackoffInitial, "initial spawn retry backoff")
	flags.Duration("spawn-backoff-max", scgid.DefaultSpawnBackoffMax, "maximum spawn retry backoff")
	flags.Duration("spawn-timeout", scgid.DefaultSpawnTimeout, "worker readiness timeout")
	flags.Duration("drain-timeout", scgid.DefaultDrainTimeout, "draining worker grace period")
	flags.Duration("health-interval", scgid.DefaultHealthInterval, "idle worker probe interval")
	flags.Duration("health-timeout", scgid.DefaultHealthTimeout, "probe response timeout")
	flags.Int("spool-max", scgid.DefaultSpoolMax, "per-connection response spool bound")
	flags.Int("max-request-size", scgid.DefaultMaxRequestSize, "request frame size bound")
	flags.StringSlice("worker-command", nil, "worker command and arguments")
	flags.String("admin-addr", "", "admin HTTP address (status and events), off when empty")
	flags.Duration("shutdown-grace", time.Second*30, "graceful shutdown time before workers are killed")
	flags.Bool("netlog", false, "log decoded frames and dispatch decisions")
	flags.String("profile", "", "enable profiling (cpu or mem)")
}

// bindConfig binds every flag to its underscore-form key so the TOML
// file uses min_processes and the environment SCGID_MIN_PROCESSES for
// the --min-processes flag.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	v.SetEnvPrefix("SCGID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadConfig(v *viper.Viper, args []string) (cfg scgid.Config, err error) {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("toml")
		if err = v.ReadInConfig(); err != nil {
			return
		}
	}
	cfg = scgid.Config{
		ListenNetwork:       v.GetString("listen_network"),
		ListenAddr:          v.GetString("listen_addr"),
		WorkerCommand:       v.GetStringSlice("worker_command"),
		MinProcesses:        v.GetInt("min_processes"),
		MaxProcesses:        v.GetInt("max_processes"),
		QueueDepth:          v.GetInt("queue_depth"),
		IdleTimeout:         v.GetDuration("idle_timeout"),
		RequestTimeout:      v.GetDuration("request_timeout"),
		SpawnBackoffInitial: v.GetDuration("spawn_backoff_initial"),
		SpawnBackoffMax:     v.GetDuration("spawn_backoff_max"),
		SpawnTimeout:        v.GetDuration("spawn_timeout"),
		DrainTimeout:        v.GetDuration("drain_timeout"),
		HealthInterval:      v.GetDuration("health_interval"),
		HealthTimeout:       v.GetDuration("health_timeout"),
		SpoolMax:            v.GetInt("spool_max"),
		MaxRequestSize:      v.GetInt("max_request_size"),
	}
	if len(args) > 0 {
		cfg.WorkerCommand = args
	}
	return
}

func run(v *viper.Viper, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	switch v.GetString("profile") {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	cfg, err := loadConfig(v, args)
	if err != nil {
		return err
	}
	srv, err := scgid.NewServer(cfg)
	if err != nil {
		return err
	}
	srv.NetLog(v.GetBool("netlog"))

	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	logger.Info("listening",
		"network", cfg.ListenNetwork,
		"addr", srv.Config.ListenAddr,
		"worker", cfg.WorkerCommand[0],
		"min", srv.Config.MinProcesses,
		"max", srv.Config.MaxProcesses)

	if adminAddr := v.GetString("admin_addr"); adminAddr != "" {
		admin, err := startAdmin(adminAddr, srv, logger)
		if err != nil {
			return err
		}
		defer admin.Close()
		logger.Info("admin listening", "addr", adminAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown_grace"))
		defer cancel()
		srv.Shutdown(ctx)
	}()

	err = srv.Serve(ln)
	if errors.Cause(err) == scgid.ErrServerClosed {
		err = nil
	}
	logger.Info("stopped",
		"accepted", srv.Stats.Accepted(),
		"completed", srv.Stats.Completed(),
		"failed", srv.Stats.Failed())
	return err
}
