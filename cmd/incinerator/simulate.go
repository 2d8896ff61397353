package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/wippyai/incinerator/internal/scenario"
)

func newSimulateCommand(opts *rootOptions) *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Replay a scenario and print each step",
		Long: `Replay every event of a scenario file against a fresh engine and print
the outcome of each step followed by the final loader table.

Exits non-zero if an expect event fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts, args[0], background)
		},
	}
	cmd.Flags().BoolVar(&background, "background", false, "also run the background maintenance thread")
	return cmd
}

func runSimulate(ctx context.Context, w io.Writer, opts *rootOptions, path string, background bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}

	st := opts.newStack(ctx)
	defer st.Close(ctx)

	out := newPrinter()
	if !st.hook.Available() {
		fmt.Fprintln(w, out.paint(errorStyle, fmt.Sprintf("engine unavailable: %v", st.hook.Err())))
		return nil
	}

	if background {
		if err := st.engine.Start(ctx); err != nil {
			return err
		}
		defer st.engine.Stop()
	}

	player, err := scenario.NewPlayer(ctx, st.engine, st.hook, st.code, s, filepath.Dir(path))
	if err != nil {
		return err
	}

	name := s.Name
	if name == "" {
		name = filepath.Base(path)
	}
	fmt.Fprintln(w, out.paint(titleStyle, "incinerator") + " " + name)
	fmt.Fprintln(w)

	var failed error
	for _, res := range player.Play(ctx) {
		fmt.Fprintln(w, out.describe(res))
		failed = multierr.Append(failed, res.Err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, out.loaderTable(player.Loaders()))
	fmt.Fprintf(w, "passes %d, queued %d, live code modules %d\n",
		st.engine.Passes(), st.engine.QueueLen(), st.code.Live())

	return failed
}
