package main

import (
	"context"

	"github.com/dc0d/onexit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/incinerator/config"
	"github.com/wippyai/incinerator/correlator"
	"github.com/wippyai/incinerator/engine"
	"github.com/wippyai/incinerator/metrics"
	"github.com/wippyai/incinerator/native"
	"github.com/wippyai/incinerator/registry"
	"github.com/wippyai/incinerator/runtime"
	"github.com/wippyai/incinerator/scheduler"
	"github.com/wippyai/incinerator/sweep"
)

// rootOptions holds global flags and what they resolve to.
type rootOptions struct {
	cfg        *config.Config
	log        *zap.Logger
	metrics    *metrics.Metrics
	configPath string
	verbose    bool
	quiet      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "incinerator",
		Short: "Reclaim native resources of dead class loaders",
		Long: `incinerator drives the stale class loader reclamation engine.

Scenarios describe loaders, the native resources they own and a sequence of
runtime events (mark, finalize, run, unload). The engine replays them and
reports which loaders were swept.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default ./incinerator.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newSimulateCommand(opts))
	cmd.AddCommand(newMonitorCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (o *rootOptions) init() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Logging.Level = "DEBUG"
	}
	o.cfg = cfg

	// A full-screen UI owns the terminal; only file logging survives.
	log := zap.NewNop()
	if !o.quiet || !isConsole(cfg.Logging.Output) {
		log, err = config.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		onexit.Register(func() { _ = log.Sync() })
	}
	o.log = log

	registry.SetLogger(log)
	scheduler.SetLogger(log)
	correlator.SetLogger(log)
	sweep.SetLogger(log)
	engine.SetLogger(log)
	native.SetLogger(log)
	runtime.SetLogger(log)

	if cfg.Metrics.Enabled {
		o.metrics = metrics.New(prometheus.DefaultRegisterer)
	}
	return nil
}

// stack is an engine with its native backend and runtime hook.
type stack struct {
	engine *engine.Engine
	code   *native.CodeCache
	hook   *runtime.Hook
}

func (o *rootOptions) newStack(ctx context.Context) *stack {
	eng := engine.New(o.cfg.EngineConfig(o.metrics, o.log))

	var probe runtime.Probe
	if o.cfg.Native.Enabled {
		probe = runtime.NativeProbe
	}
	hook := runtime.New(eng, probe)
	o.metrics.SetAvailable(hook.Available())

	return &stack{
		engine: eng,
		code:   native.NewCodeCache(ctx, eng, o.cfg.NativeConfig()),
		hook:   hook,
	}
}

func (s *stack) Close(ctx context.Context) {
	_ = s.code.Close(ctx)
}

func isConsole(output string) bool {
	return output == "" || output == "stderr" || output == "stdout"
}
