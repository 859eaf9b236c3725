// Package main provides the EventBridge-triggered Lambda that runs one
// scheduler cycle per enabled platform on every scheduled invocation.
//
// The schedule rule (for example rate(1 minute)) replaces the in-process
// ticker used by the long-running scheduler binary. Platforms run one after
// another within the invocation.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/lambdaboot"
	"github.com/fpang/social-post-scheduler/internal/logging"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
)

var coldStart = true

var schedulers []*scheduler.Scheduler

func init() {
	initStart := time.Now()
	logging.Init()

	c, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	startup := logging.NewStartupLogger("scheduler-lambda").Version(commitHash + "@" + buildTime)
	schedulers, _ = lambdaboot.Bootstrap(context.Background(), c, startup)
	startup.InitDuration(time.Since(initStart)).Log()
}

// cycleResponse is returned to the invoker for test invocations.
type cycleResponse struct {
	Summaries []scheduler.CycleSummary `json:"summaries"`
}

func handler(ctx context.Context, event events.CloudWatchEvent) (cycleResponse, error) {
	log.Info().
		Str("eventId", event.ID).
		Str("source", event.Source).
		Time("eventTime", event.Time).
		Bool("coldStart", coldStart).
		Msg("Scheduled cycle invoked")
	coldStart = false

	resp := cycleResponse{Summaries: make([]scheduler.CycleSummary, 0, len(schedulers))}
	for _, s := range schedulers {
		if ctx.Err() != nil {
			log.Warn().Str("platform", string(s.Platform())).Msg("Invocation deadline reached, remaining platforms deferred")
			break
		}
		resp.Summaries = append(resp.Summaries, s.RunCycle(ctx))
	}
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
