package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/digibattleapp/Digi-Battle/internal/app"
	"github.com/digibattleapp/Digi-Battle/internal/codec"
	"github.com/digibattleapp/Digi-Battle/internal/config"
	"github.com/digibattleapp/Digi-Battle/internal/engine"
	"github.com/digibattleapp/Digi-Battle/internal/exchange"
	"github.com/digibattleapp/Digi-Battle/internal/history"
)

// reloadInterval is how often serve polls the config file.
const reloadInterval = 2 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "digibattle",
		Short: "Battle a Digimon toy over the audio jack",
		Long: `digibattle plays and records the toy's wire protocol through a sound card.

Connect the toy to the line out and mic in of the sound card, then either
send the first message yourself or reply to a battle the toy starts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		newExchangeCmd(opts, "send", "sender", "Send messages first and record the replies"),
		newExchangeCmd(opts, "reply", "receiver", "Wait for the toy and answer with messages"),
		newServeCmd(opts),
		newEncodeCmd(),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

// ─── send / reply ────────────────────────────────────────────────────────────

func newExchangeCmd(opts *rootOptions, use, role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hex>...",
		Short: short,
		Long: short + `.

Each argument is one hex message of up to 4 digits, played on this side's turns in
order, at most 16 per battle. The exchange ends once the line goes quiet
after the last message, when link.session_timeout elapses, or on Ctrl+C.

Examples:
  digibattle ` + use + ` 0c01 8e79
  digibattle -c battle.yaml ` + use + ` a3f0`,
		Args: messageArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cmd.ErrOrStderr(), opts.configPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					rt.log.Error("shutdown error", "err", err)
				}
			}()

			printStartupSummary(cmd.ErrOrStderr(), rt.cfg, use)
			res, err := rt.app.Exchange(cmd.Context(), role, args)
			if res != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// ─── serve ───────────────────────────────────────────────────────────────────

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		role   string
		rounds int
	)
	cmd := &cobra.Command{
		Use:   "serve <hex>...",
		Short: "Answer battles back to back",
		Long: `Answer battles back to back until interrupted.

The diagnostics server (server.diagnostics_addr) runs for the whole loop and
the config file is watched: link, signal, codec and log level changes apply
to the next battle.

Examples:
  digibattle serve 0c01 8e79
  digibattle serve --rounds 5 --role receiver 0c01`,
		Args: messageArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cmd.ErrOrStderr(), opts.configPath,
				app.WithConfigPath(opts.configPath, reloadInterval),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.close(); err != nil {
					rt.log.Error("shutdown error", "err", err)
				}
			}()

			printStartupSummary(cmd.ErrOrStderr(), rt.cfg, "serve")
			rt.log.Info("ready; press Ctrl+C to stop")
			return rt.app.Serve(cmd.Context(), app.ServeRequest{
				Role:     role,
				Messages: args,
				Rounds:   rounds,
				OnResult: func(res *exchange.Result, _ error) {
					if res != nil {
						fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
					}
				},
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "sender or receiver (default link.role)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "stop after this many battles (0 = until interrupted)")
	return cmd
}

// ─── encode ──────────────────────────────────────────────────────────────────

func newEncodeCmd() *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "encode <hex>...",
		Short: "Show how messages are written on the line",
		Long: `Show how messages are written on the line, without opening audio.

With ten or more messages the 20th anniversary check digit of the first ten
is printed as well.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec.Lookup(preset)
			if err != nil {
				return err
			}
			for _, hex := range args {
				out, err := renderFrame(c, hex)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			if len(args) >= 10 {
				digit, err := codec.Checksum20th(args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %c\n", labelStyle.Render("20th check digit:"), digit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", config.DefaultPreset, "codec preset")
	return cmd
}

// ─── history ─────────────────────────────────────────────────────────────────

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List stored exchanges, or show one",
		Long: `List stored exchanges newest first, or show one by id.

Requires history.dir; without it exchanges are only kept in memory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.History.Dir == "" {
				return errors.New("history.dir is not set; exchanges are not persisted")
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel.Level())
			store, err := history.Open(history.Options{Dir: cfg.History.Dir, Logger: logger})
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, rec)
				}
				fmt.Fprintln(out, renderRecord(rec))
				return nil
			}

			if limit == 0 {
				limit = cfg.History.Limit
			}
			recs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if recs == nil {
					recs = []history.Record{}
				}
				return writeJSON(out, recs)
			}
			fmt.Fprintln(out, renderRecords(recs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of exchanges to list (default history.limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// ─── version ─────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "digibattle %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// messageArgs accepts between one message and as many as a battle can play.
var messageArgs = cobra.RangeArgs(1, engine.MaxFrames)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
