package lambdaboot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/facebook"
	"github.com/fpang/social-post-scheduler/internal/instagram"
	"github.com/fpang/social-post-scheduler/internal/lease"
	"github.com/fpang/social-post-scheduler/internal/logging"
	"github.com/fpang/social-post-scheduler/internal/notify"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
	"github.com/fpang/social-post-scheduler/internal/twitter"
)

// Deps are the collaborators every scheduler shares.
type Deps struct {
	Tasks     *store.TaskStore
	Creds     *store.CredentialStore
	Media     blobstore.Store
	Presigner blobstore.Presigner
	Locker    lease.Locker
	Notifier  notify.Notifier
}

// NewPublisher builds the publish client for p from c.
func NewPublisher(p task.Platform, c *config.Config, d Deps) (publish.Publisher, error) {
	switch p {
	case task.Instagram:
		var opts []instagram.ClientOption
		if c.InstagramBaseURL != "" {
			opts = append(opts, instagram.WithBaseURL(c.InstagramBaseURL))
		}
		if c.InstagramRefreshURL != "" {
			opts = append(opts, instagram.WithRefreshURL(c.InstagramRefreshURL))
		}
		return instagram.NewPublisher(instagram.NewClient(opts...), d.Creds, d.Media, d.Presigner), nil

	case task.Facebook:
		var opts []facebook.ClientOption
		if c.FacebookBaseURL != "" {
			opts = append(opts, facebook.WithBaseURL(c.FacebookBaseURL))
		}
		return facebook.NewPublisher(facebook.NewClient(opts...), d.Creds, d.Media), nil

	case task.Twitter:
		if c.TwitterClientID == "" || c.TwitterClientSecret == "" {
			return nil, fmt.Errorf("twitter is enabled but client credentials are not configured")
		}
		var opts []twitter.ClientOption
		if c.TwitterAPIURL != "" {
			opts = append(opts, twitter.WithAPIURL(c.TwitterAPIURL))
		}
		if c.TwitterUploadURL != "" {
			opts = append(opts, twitter.WithUploadURL(c.TwitterUploadURL))
		}
		if c.TwitterTokenURL != "" {
			opts = append(opts, twitter.WithTokenURL(c.TwitterTokenURL))
		}
		return twitter.NewPublisher(twitter.NewClient(c.TwitterClientID, c.TwitterClientSecret, opts...), d.Creds, d.Media), nil
	}
	return nil, fmt.Errorf("unsupported platform %q", p)
}

// BuildSchedulers returns one scheduler per enabled platform, in the order
// the platforms are configured.
func BuildSchedulers(c *config.Config, d Deps, opts ...scheduler.Option) ([]*scheduler.Scheduler, error) {
	platforms, err := c.EnabledPlatforms()
	if err != nil {
		return nil, err
	}
	var base []scheduler.Option
	if d.Locker != nil {
		base = append(base, scheduler.WithLocker(d.Locker))
	}
	if d.Notifier != nil {
		base = append(base, scheduler.WithNotifier(d.Notifier))
	}
	base = append(base, opts...)

	scheds := make([]*scheduler.Scheduler, 0, len(platforms))
	for _, p := range platforms {
		pub, err := NewPublisher(p, c, d)
		if err != nil {
			return nil, fmt.Errorf("%s publisher: %w", p, err)
		}
		scheds = append(scheds, scheduler.New(scheduler.Config{
			Platform:     p,
			MaxAttempts:  c.MaxAttempts,
			Interval:     c.PollInterval,
			ListPageSize: c.ListPageSize,
		}, d.Tasks, pub, base...))
	}
	return scheds, nil
}

// Bootstrap performs the full AWS cold start: secrets, stores, lease,
// notifier, and schedulers. It fatals on unrecoverable misconfiguration and
// registers every resource with startup.
func Bootstrap(ctx context.Context, c *config.Config, startup *logging.StartupLogger) ([]*scheduler.Scheduler, *store.TaskStore) {
	if err := c.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	clients := InitAWS(ctx)
	if err := LoadSecrets(ctx, clients.SSM, c, startup); err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets")
	}

	taskBlobs := InitS3(clients.S3, "tasks", c.TaskBucket)
	media := taskBlobs
	if c.MediaBucket != c.TaskBucket {
		media = InitS3(clients.S3, "media", c.MediaBucket)
	}
	deps := Deps{
		Tasks:     store.NewTaskStore(taskBlobs),
		Creds:     store.NewCredentialStore(taskBlobs),
		Media:     media,
		Presigner: media,
		Locker:    InitLease(clients.Config, c.LeaseTable),
		Notifier:  InitNotifier(clients.Config, c.EventBusName),
	}

	scheds, err := BuildSchedulers(c, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build schedulers")
	}

	startup.
		S3Bucket("tasks", c.TaskBucket).
		S3Bucket("media", c.MediaBucket).
		Feature("lease", c.LeaseTable != "").
		Feature("eventBridge", c.EventBusName != "").
		Feature("originVerify", c.OriginVerifySecret != "").
		Config("pollInterval", c.PollInterval.String()).
		Config("maxAttempts", fmt.Sprint(c.MaxAttempts))
	if c.LeaseTable != "" {
		startup.DynamoTable("leases", c.LeaseTable)
	}
	if c.EventBusName != "" {
		startup.EventBus("notifications", c.EventBusName)
	}
	for _, s := range scheds {
		startup.Platform(string(s.Platform()))
	}
	return scheds, deps.Tasks
}
