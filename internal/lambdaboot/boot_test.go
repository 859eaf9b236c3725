package lambdaboot

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/config"
	"github.com/fpang/social-post-scheduler/internal/logging"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

type fakeSSM struct {
	params map[string]string
	calls  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	v, ok := f.params[name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestLoadSecret(t *testing.T) {
	f := &fakeSSM{params: map[string]string{"/p/set": "from-ssm", "/p/empty": ""}}
	ctx := context.Background()

	if v, err := LoadSecret(ctx, f, "from-env", "/p/set"); err != nil || v != "from-env" {
		t.Errorf("expected env value to win, got %q, %v", v, err)
	}
	if len(f.calls) != 0 {
		t.Errorf("SSM should not be called when the value is set, got %v", f.calls)
	}
	if v, err := LoadSecret(ctx, f, "", "/p/set"); err != nil || v != "from-ssm" {
		t.Errorf("expected SSM value, got %q, %v", v, err)
	}
	if _, err := LoadSecret(ctx, f, "", "/p/missing"); err == nil {
		t.Error("expected error for missing parameter")
	}
	if _, err := LoadSecret(ctx, f, "", "/p/empty"); err == nil {
		t.Error("expected error for empty parameter")
	}
}

func TestLoadSecretsOnlyForEnabledPlatforms(t *testing.T) {
	f := &fakeSSM{params: map[string]string{
		"/social/twitter-client-id":     "cid",
		"/social/twitter-client-secret": "csecret",
	}}
	ctx := context.Background()

	c := &config.Config{SSMPrefix: "/social", Platforms: []string{"instagram"}}
	if err := LoadSecrets(ctx, f, c, logging.NewStartupLogger("test")); err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("twitter secrets loaded while twitter is disabled: %v", f.calls)
	}

	c.Platforms = []string{"twitter"}
	if err := LoadSecrets(ctx, f, c, logging.NewStartupLogger("test")); err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if c.TwitterClientID != "cid" || c.TwitterClientSecret != "csecret" {
		t.Errorf("secrets not filled: %q %q", c.TwitterClientID, c.TwitterClientSecret)
	}
}

func memoryDeps() Deps {
	blobs := blobstore.NewMemoryStore()
	return Deps{
		Tasks:     store.NewTaskStore(blobs),
		Creds:     store.NewCredentialStore(blobs),
		Media:     blobs,
		Presigner: blobs,
	}
}

func TestBuildSchedulers(t *testing.T) {
	c := &config.Config{
		Platforms:           []string{"twitter", "instagram", "facebook"},
		MaxAttempts:         5,
		TwitterClientID:     "id",
		TwitterClientSecret: "secret",
	}
	scheds, err := BuildSchedulers(c, memoryDeps())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []task.Platform{task.Twitter, task.Instagram, task.Facebook}
	if len(scheds) != len(want) {
		t.Fatalf("expected %d schedulers, got %d", len(want), len(scheds))
	}
	for i, s := range scheds {
		if s.Platform() != want[i] {
			t.Errorf("scheduler %d: expected %s, got %s", i, want[i], s.Platform())
		}
		if s.Config().MaxAttempts != 5 {
			t.Errorf("%s: max attempts not applied", s.Platform())
		}
	}
}

func TestBuildSchedulersTwitterNeedsCredentials(t *testing.T) {
	c := &config.Config{Platforms: []string{"twitter"}}
	if _, err := BuildSchedulers(c, memoryDeps()); err == nil {
		t.Error("expected error when twitter client credentials are missing")
	}
}
