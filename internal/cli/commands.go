package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"trustvoice/internal/config"
	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
	"trustvoice/internal/tui"
)

func topKFlag(dst *int) cli.Flag {
	return &cli.IntFlag{
		Name:        "top-k",
		Aliases:     []string{"k"},
		Usage:       "Number of complaints to retrieve (0 uses search.default_top_k)",
		Destination: dst,
	}
}

func queryArg(c *cli.Command) (string, error) {
	q := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if q == "" {
		return "", goerr.Wrap(domain.ErrInvalidRequest, "query is required")
	}
	return q, nil
}

func cmdBuild(cfg *config.AppConfig) *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Load complaint data and rebuild the vector index",
		ArgsUsage: "[sources...]",
		Action: func(ctx context.Context, c *cli.Command) error {
			sources := c.Args().Slice()
			if len(sources) == 0 {
				sources = cfg.Data.Sources
			}

			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.Build(ctx, sources...)
			if err != nil {
				return goerr.Wrap(err, "index build failed")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Indexed %d of %d complaints into %q (%d skipped) in %s\n",
				report.Indexed, report.Loaded, report.Collection, report.Skipped, report.Duration.Round(time.Millisecond))
			fmt.Fprintf(w, "Embedding model: %s\nBuild id: %s\n", report.Model, report.BuildID)
			return nil
		},
	}
}

func cmdSearch(cfg *config.AppConfig) *cli.Command {
	var topK int
	return &cli.Command{
		Name:      "search",
		Usage:     "Find complaints similar to a query",
		ArgsUsage: "<query>",
		Flags:     []cli.Flag{topKFlag(&topK)},
		Action: func(ctx context.Context, c *cli.Command) error {
			q, err := queryArg(c)
			if err != nil {
				return err
			}
			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			_ = svc.Open(ctx)

			results, err := svc.SearchSimilar(ctx, q, topK)
			if err != nil {
				return err
			}
			printResults(c.Root().Writer, results)
			return nil
		},
	}
}

func cmdAsk(cfg *config.AppConfig) *cli.Command {
	var topK int
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question grounded in similar complaints",
		ArgsUsage: "<question>",
		Flags:     []cli.Flag{topKFlag(&topK)},
		Action: func(ctx context.Context, c *cli.Command) error {
			q, err := queryArg(c)
			if err != nil {
				return err
			}
			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			_ = svc.Open(ctx)

			a, err := svc.Answer(ctx, q, topK)
			if err != nil {
				return err
			}
			printAnswer(c.Root().Writer, a)
			return nil
		},
	}
}

func cmdInfo(cfg *config.AppConfig) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the vector index collection",
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Open(ctx); err != nil {
				return err
			}

			info, err := svc.Info(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func cmdChat(cfg *config.AppConfig) *cli.Command {
	var topK int
	return &cli.Command{
		Name:  "chat",
		Usage: "Ask questions in an interactive terminal chat",
		Flags: []cli.Flag{topKFlag(&topK)},
		Action: func(ctx context.Context, c *cli.Command) error {
			svc, err := newService(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			_ = svc.Open(ctx)
			_ = svc.Warm(ctx)

			// log lines would corrupt the full-screen view
			quiet, err := logging.New(io.Discard, 0, logging.FormatJSON, false)
			if err != nil {
				return err
			}
			prev := logging.Default()
			logging.SetDefault(quiet)
			defer logging.SetDefault(prev)

			timeout := time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second
			m := tui.New(svc, topK, timeout)
			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return goerr.Wrap(err, "chat exited with error")
			}
			return nil
		},
	}
}

func printResults(w io.Writer, results []domain.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No similar complaints found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s  score=%.3f", i+1, r.ID, r.Score)
		if p := r.Metadata.String("product"); p != "" {
			fmt.Fprintf(w, "  product=%s", p)
		}
		if co := r.Metadata.String("company"); co != "" {
			fmt.Fprintf(w, "  company=%s", co)
		}
		fmt.Fprintf(w, "\n   %s\n", r.Document)
	}
}

func printAnswer(w io.Writer, a *domain.Answer) {
	fmt.Fprintln(w, a.Text)
	if len(a.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range a.Sources {
		fmt.Fprintf(w, "- %s (score=%.3f): %s\n", s.ID, s.Score, s.Excerpt)
	}
}
