package cli

import (
	"fmt"

	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// SelectSchedulers returns the scheduler for platform, or all of them when
// platform is empty. A known platform that is not enabled is an error.
func SelectSchedulers(scheds []*scheduler.Scheduler, platform string) ([]*scheduler.Scheduler, error) {
	if platform == "" {
		return scheds, nil
	}
	p, err := task.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	for _, s := range scheds {
		if s.Platform() == p {
			return []*scheduler.Scheduler{s}, nil
		}
	}
	return nil, fmt.Errorf("platform %s is not enabled", p)
}
