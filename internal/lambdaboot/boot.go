// Package lambdaboot provides the shared cold-start bootstrap used by every
// binary: AWS config, S3 stores, the optional DynamoDB lease table, the
// optional EventBridge bus, SSM secrets, and the per-platform schedulers.
//
// Init* helpers log.Fatal on misconfiguration.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/lease"
	"github.com/fpang/social-post-scheduler/internal/logging"
	"github.com/fpang/social-post-scheduler/internal/notify"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// AWSClients holds the AWS config and the clients shared across stores.
type AWSClients struct {
	Config aws.Config
	S3     *s3.Client
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and creates the shared clients.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		S3:     s3.NewFromConfig(cfg),
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an object store over bucket. Fatals if bucket is empty.
func InitS3(client *s3.Client, label, bucket string) *blobstore.S3Store {
	if bucket == "" {
		log.Fatal().Str("store", label).Msg("Bucket name is required")
	}
	return blobstore.NewS3Store(client, bucket)
}

// InitLease returns a DynamoDB-backed Locker when table is set, or a
// NopLocker for single-process deployments.
func InitLease(cfg aws.Config, table string) lease.Locker {
	if table == "" {
		log.Debug().Msg("Lease table not set, task leases disabled")
		return lease.NopLocker{}
	}
	l := lease.NewDynamoLocker(dynamodb.NewFromConfig(cfg), table)
	log.Info().Str("table", table).Str("owner", l.Owner()).Msg("DynamoDB task leases enabled")
	return l
}

// InitNotifier returns an EventBridge notifier when bus is set, or a
// LogNotifier otherwise.
func InitNotifier(cfg aws.Config, bus string) notify.Notifier {
	if bus == "" {
		log.Debug().Msg("Event bus not set, manual-required events go to the log")
		return notify.LogNotifier{}
	}
	return notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(cfg), bus)
}

// parameterGetter is the subset of *ssm.Client used by LoadSecret.
type parameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret returns current when it is already set (from the environment
// or config file); otherwise it reads the decrypted SSM parameter at path.
// Only the path is logged, never the value.
func LoadSecret(ctx context.Context, client parameterGetter, current, path string) (string, error) {
	if current != "" {
		return current, nil
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", path, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", path)
	}
	log.Debug().Str("param", path).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}

// LoadSecrets fills the secrets in c that are not already set. A missing
// Twitter secret is fatal only when Twitter is enabled; the origin secret
// is optional.
func LoadSecrets(ctx context.Context, client parameterGetter, c *config.Config, startup *logging.StartupLogger) error {
	platforms, err := c.EnabledPlatforms()
	if err != nil {
		return err
	}
	if slices.Contains(platforms, task.Twitter) {
		idPath, secretPath := c.SSMPath("twitter-client-id"), c.SSMPath("twitter-client-secret")
		if c.TwitterClientID, err = LoadSecret(ctx, client, c.TwitterClientID, idPath); err != nil {
			return err
		}
		if c.TwitterClientSecret, err = LoadSecret(ctx, client, c.TwitterClientSecret, secretPath); err != nil {
			return err
		}
		startup.SSMParam("twitterClientId", idPath).SSMParam("twitterClientSecret", secretPath)
	}

	if c.OriginVerifySecret == "" && os.Getenv("ORIGIN_VERIFY_SSM") != "" {
		path := os.Getenv("ORIGIN_VERIFY_SSM")
		secret, err := LoadSecret(ctx, client, "", path)
		if err != nil {
			log.Warn().Err(err).Str("param", path).Msg("Origin verify secret not loaded, control API is unprotected")
		} else {
			c.OriginVerifySecret = secret
			startup.SSMParam("originVerify", path)
		}
	}
	return nil
}
