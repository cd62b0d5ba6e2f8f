package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	core "github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/statusrepo"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

// researchCMD runs one research query end to end from the terminal, without
// the HTTP server.
func researchCMD() *cobra.Command {
	var cfgPath string
	var recipient string
	var noStore bool

	var research = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research query end to end",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			query := strings.Join(args, " ")

			timeout := cfg.General.MaxProcessingTime
			if timeout <= 0 {
				timeout = 10 * time.Minute
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var runs core.RunRepository
			if !noStore {
				if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
					st, err := store.NewWithDSN(ctx, dsn)
					if err != nil {
						return err
					}
					runs = st
				}
			}

			var statuses core.StatusRepository
			if cfg.Storage.Redis.Enabled {
				client, err := statusrepo.Conn(ctx, cfg.Storage.Redis)
				if err != nil {
					return err
				}
				statuses = statusrepo.New(client)
			}

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			llmProvider, err := core.NewLLMProvider(cfg.LLM)
			if err != nil {
				return err
			}
			searcher, err := core.NewSearcher(cfg.Search)
			if err != nil {
				return err
			}
			sender, err := core.NewEmailSender(cfg.Email)
			if err != nil {
				return err
			}

			orch := core.NewOrchestrator(cfg,
				log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
				tele,
				core.NewSearchPlanner(cfg, llmProvider, tele),
				core.NewConcurrentSearchExecutor(cfg, llmProvider, searcher, tele),
				core.NewReportSynthesizer(cfg, llmProvider, tele),
				core.NewDeliveryDispatcher(cfg, sender, tele),
				runs, statuses)

			result, err := orch.Research(ctx, core.ResearchRequest{
				Query:     query,
				Recipient: recipient,
			})
			if err != nil {
				return err
			}

			fmt.Printf("run %s done in %v\n\n", result.RunID, result.ProcessingTime.Round(time.Second))
			fmt.Println(result.Draft.ShortSummary)
			fmt.Printf("\nreport delivered to %s (%d words, $%.4f, %d tokens)\n",
				result.Receipt.Recipient, result.Draft.WordCount(), result.CostEstimate, result.TokensUsed)
			return nil
		},
	}
	research.Flags().StringVar(&recipient, "to", "", "override the configured recipient address")
	research.Flags().BoolVar(&noStore, "no-store", false, "skip Postgres persistence")
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return research
}
