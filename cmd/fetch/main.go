// Command fetch queries the quote engine from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quotewatch/internal/app"
	"quotewatch/internal/config"
	"quotewatch/internal/logging"
	"quotewatch/internal/provider"
	"quotewatch/internal/watchlist"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfgFile string
	verbose bool
	opts    []app.Option

	cfg config.Config
}

func newRootCmd(opts ...app.Option) *cobra.Command {
	c := &cli{opts: opts}
	root := &cobra.Command{
		Use:          "fetch",
		Short:        "Fetch equity quotes through the provider chain",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.setup()
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log chain attempts to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "quote SYMBOL",
			Short: "Fetch one analyzed quote (cache, then providers)",
			Args:  cobra.ExactArgs(1),
			RunE:  c.quote,
		},
		&cobra.Command{
			Use:   "watchlist SYMBOL[,SYMBOL...]",
			Short: "Populate an ad-hoc watchlist; failures are listed, not fatal",
			Args:  cobra.MinimumNArgs(1),
			RunE:  c.watchlist,
		},
		&cobra.Command{
			Use:   "providers SYMBOL",
			Short: "Run every enabled provider on its own and print each raw result",
			Args:  cobra.ExactArgs(1),
			RunE:  c.providers,
		},
		&cobra.Command{
			Use:   "discover",
			Short: "Quote a random stock from the configured universe",
			Args:  cobra.NoArgs,
			RunE:  c.discover,
		},
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	if _, err := logging.Init(logging.Config{Level: level, Format: "pretty", ServiceName: "quotewatch-fetch"}); err != nil {
		return err
	}
	// Nothing to share between runs of a one-shot command.
	cfg.Quotes.SweepIntervalSec = 0
	c.cfg = cfg
	return nil
}

func (c *cli) open(ctx context.Context) (*app.App, error) {
	opts := append([]app.Option{app.WithRepository(watchlist.NewMemory())}, c.opts...)
	return app.New(ctx, c.cfg, opts...)
}

func (c *cli) quote(cmd *cobra.Command, args []string) error {
	a, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	q, err := a.Service.GetQuote(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), q)
}

func (c *cli) watchlist(cmd *cobra.Command, args []string) error {
	var symbols []string
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
	}
	a, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	entries := make([]watchlist.Entry, len(symbols))
	for i, s := range symbols {
		entries[i] = watchlist.NewEntry(s, now)
	}
	errs := a.Service.PopulateWatchlist(cmd.Context(), entries)
	for _, e := range errs {
		log.Warn().Msg(e)
	}
	if errs == nil {
		errs = []string{}
	}
	return printJSON(cmd.OutOrStdout(), struct {
		Entries []watchlist.Entry `json:"entries"`
		Errors  []string          `json:"errors"`
	}{entries, errs})
}

type providerRun struct {
	Provider string          `json:"provider"`
	Success  bool            `json:"success"`
	Kind     string          `json:"kind,omitempty"`
	Error    string          `json:"error,omitempty"`
	Elapsed  string          `json:"elapsed"`
	Quote    *provider.Quote `json:"quote,omitempty"`
}

// providers bypasses the cache and the chain so each upstream can be checked
// on its own.
func (c *cli) providers(cmd *cobra.Command, args []string) error {
	sym, err := provider.NormalizeSymbol(args[0])
	if err != nil {
		return err
	}
	a, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	runs := make([]providerRun, 0, len(a.Adapters))
	for _, ad := range a.Adapters {
		ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Quotes.AdapterTimeout())
		res := ad.Fetch(ctx, sym)
		cancel()
		run := providerRun{
			Provider: ad.Name(),
			Success:  res.Success,
			Error:    res.ErrorMessage,
			Elapsed:  res.Elapsed.Round(time.Millisecond).String(),
			Quote:    res.Quote,
		}
		if !res.Success {
			run.Kind = res.Kind.String()
		}
		runs = append(runs, run)
	}
	return printJSON(cmd.OutOrStdout(), runs)
}

func (c *cli) discover(cmd *cobra.Command, _ []string) error {
	a, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	q, err := a.Service.Discover(cmd.Context(), a.Picker)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), q)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
