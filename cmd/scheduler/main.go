// Command scheduler runs the post schedulers as a long-lived process, or
// executes a single cycle or health check from the command line.
//
//	scheduler serve                 poll every platform and serve the control API
//	scheduler cycle [-p platform]   run one cycle now and print the summaries
//	scheduler health -p platform    print the task buckets for one platform
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/social-post-scheduler/internal/api"
	"github.com/fpang/social-post-scheduler/internal/cli"
	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/lambdaboot"
	"github.com/fpang/social-post-scheduler/internal/logging"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

// CLI flags
var (
	configFlag   string
	platformFlag string
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Publish scheduled social media posts when they come due",
	Long: `Scheduler polls the task store for Instagram, Facebook, and Twitter posts
whose scheduled time has passed and publishes them, retrying failures up to
the configured attempt limit.

Settings come from scheduler.json (or --config) and the environment.

Examples:
  scheduler serve
  scheduler cycle --platform twitter
  scheduler health -p instagram --config ./staging.json`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every enabled scheduler and the control API until interrupted",
	RunE:  runServe,
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one cycle now and print what it did",
	RunE:  runCycle,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print scheduled, overdue, failed, and finished tasks",
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (default: ./scheduler.json)")
	cycleCmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Only run this platform (default: all enabled)")
	cycleCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print summaries as JSON")
	healthCmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "Platform to inspect")
	_ = healthCmd.MarkFlagRequired("platform")
	rootCmd.AddCommand(serveCmd, cycleCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// boot loads config and wires the schedulers. Misconfiguration is fatal.
func boot(ctx context.Context, name string) (*config.Config, []*scheduler.Scheduler, *store.TaskStore) {
	initStart := time.Now()
	logging.Init()

	c, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	startup := logging.NewStartupLogger(name).Version(commitHash + "@" + buildTime)
	scheds, tasks := lambdaboot.Bootstrap(ctx, c, startup)
	startup.InitDuration(time.Since(initStart)).Log()
	return c, scheds, tasks
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, scheds, tasks := boot(ctx, "scheduler")
	srv := &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           api.NewServer(tasks, scheds, api.WithOriginSecret(c.OriginVerifySecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range scheds {
		g.Go(func() error { return s.Start(ctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", c.HTTPAddr).Msg("Control API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Scheduler exited with error")
		return err
	}
	log.Info().Msg("Scheduler shut down cleanly")
	return nil
}

func runCycle(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, scheds, _ := boot(ctx, "scheduler-cycle")
	selected, err := cli.SelectSchedulers(scheds, platformFlag)
	if err != nil {
		return err
	}

	sums := make([]scheduler.CycleSummary, 0, len(selected))
	for _, s := range selected {
		sums = append(sums, s.ForceProcess(ctx))
	}
	if jsonFlag {
		return cli.PrintJSON(cmd.OutOrStdout(), sums)
	}
	for _, sum := range sums {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSummary(sum))
	}
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, scheds, _ := boot(ctx, "scheduler-health")
	selected, err := cli.SelectSchedulers(scheds, platformFlag)
	if err != nil {
		return err
	}
	h, err := selected[0].Health(ctx)
	if err != nil {
		return err
	}
	return cli.PrintJSON(cmd.OutOrStdout(), h)
}
