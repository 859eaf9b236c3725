// Package main provides the Lambda entry point for the scheduler control
// API behind API Gateway (HTTP API, payload v2).
//
// Security:
//   - Origin-verify middleware blocks direct API Gateway access when the
//     secret is configured (CloudFront injects the header)
//   - Request bodies are capped and validated before any task is stored
//
// See package api for the endpoint list.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/api"
	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/lambdaboot"
	"github.com/fpang/social-post-scheduler/internal/logging"
)

var server *api.Server

func init() {
	initStart := time.Now()
	logging.Init()

	c, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	startup := logging.NewStartupLogger("api-lambda").Version(commitHash + "@" + buildTime)
	scheds, tasks := lambdaboot.Bootstrap(context.Background(), c, startup)
	if c.OriginVerifySecret == "" {
		log.Warn().Msg("Origin verify secret not set, origin verification disabled")
	}
	server = api.NewServer(tasks, scheds, api.WithOriginSecret(c.OriginVerifySecret))
	startup.InitDuration(time.Since(initStart)).Log()
}

func main() {
	adapter := httpadapter.NewV2(server)
	lambda.Start(adapter.ProxyWithContext)
}
