package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"CommunityScanner/internal/app"
	"CommunityScanner/internal/config"
	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/logging"
	"CommunityScanner/internal/report"
	"CommunityScanner/internal/usecase"
)

// errRunIncomplete makes the process exit non-zero after the report is printed.
var errRunIncomplete = errors.New("run incomplete")

type cli struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "communityscanner",
		Short:         "Map institutions to their online communities and collect discussion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.Logging.Level = c.logLevel
			}
			c.cfg = cfg
			c.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (default $COMMUNITY_SCANNER_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		c.resolveCommand(),
		c.scrapeCommand(),
		c.scheduleCommand(),
		c.exportCommand(),
		c.scoreCommand(),
		c.entitiesCommand(),
	)
	return root
}

func (c *cli) application(cmd *cobra.Command) (*app.Application, error) {
	return app.New(cmd.Context(), c.cfg, c.logger)
}

func addRefreshFlags(cmd *cobra.Command, opts *app.RunOptions) {
	cmd.Flags().StringSliceVar(&opts.Refresh, "refresh", nil, "re-resolve these entities even if the map already has them")
	cmd.Flags().BoolVar(&opts.RefreshAll, "refresh-all", false, "re-resolve every entity")
}

func (c *cli) resolveCommand() *cobra.Command {
	var opts app.RunOptions
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve entities to communities and write the map for review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Resolve(cmd.Context(), opts)
			if err != nil {
				return err
			}
			entries, err := a.ResolutionMap()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Resolutions(entries))
			return finish(cmd, summary)
		},
	}
	addRefreshFlags(cmd, &opts)
	return cmd
}

func (c *cli) scrapeCommand() *cobra.Command {
	var opts app.RunOptions
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Resolve entities and fetch new content for every mapped community",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Scrape(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return finish(cmd, summary)
		},
	}
	addRefreshFlags(cmd, &opts)
	return cmd
}

func (c *cli) scheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run scrape on the configured cron expression until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Schedule(cmd.Context())
		},
	}
}

func (c *cli) exportCommand() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the collected corpus as JSON or JSON Lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return withOutput(cmd, out, func(w io.Writer) error {
				stats, err := a.Export(cmd.Context(), w, format)
				if err != nil {
					return err
				}
				c.logger.Info("export finished", "communities", stats.Communities, "items", stats.Items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", usecase.ExportJSON, "json or jsonl")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) scoreCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Send the corpus to the sentiment service and write scores as JSON Lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return withOutput(cmd, out, func(w io.Writer) error {
				stats, err := a.Score(cmd.Context(), w)
				if err != nil {
					return err
				}
				c.logger.Info("scoring finished", "items", stats.Items, "batches", stats.Batches)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) entitiesCommand() *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Scrape the ranking table and print or save the entity list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.application(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if save == "" {
				save = c.cfg.Entities.Ranking.SavePath
			}
			entities, err := a.RankingEntities(cmd.Context(), save)
			if err != nil {
				return err
			}
			for i, e := range entities {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "write the list to this file (default entities.ranking.savePath)")
	return cmd
}

// finish prints the run report and turns failures or an interruption into a
// non-zero exit.
func finish(cmd *cobra.Command, summary domain.RunSummary) error {
	fmt.Fprintln(cmd.OutOrStdout(), report.Summary(summary))
	if summary.Failed() || cmd.Context().Err() != nil {
		return errRunIncomplete
	}
	return nil
}

func withOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
