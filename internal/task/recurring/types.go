package recurring

import (
	"fmt"
	"strings"
	"time"

	"taskbot/internal/task"
)

const (
	RandomDMJob  = "random_dm_task"
	ImagePostJob = "image_post_task"
)

// JobConfig describes one system-owned recurring job.
//
// random_dm jobs pick a user from UserIDs and a line from Messages.
// image_post jobs send one of ImageURLs with Caption to ChannelID.
type JobConfig struct {
	Name     string
	Type     task.Type
	Interval time.Duration
	Enabled  bool
	// Spread delays the first firing (no last run on record) by up to this much.
	Spread time.Duration

	UserIDs  []string
	Messages []string

	ChannelID string
	ThreadID  int
	ImageURLs []string
	Caption   string
}

type Config struct {
	Jobs            []JobConfig
	DeliveryTimeout time.Duration
}

// DefaultJobs returns the two built-in jobs with empty payloads.
func DefaultJobs() []JobConfig {
	return []JobConfig{
		{Name: RandomDMJob, Type: task.TypeRandomDM, Interval: 24 * time.Hour, Enabled: true},
		{Name: ImagePostJob, Type: task.TypeImagePost, Interval: 7 * 24 * time.Hour, Enabled: true},
	}
}

func (j JobConfig) validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("recurring job name required")
	}
	if j.Interval < time.Second {
		return fmt.Errorf("recurring job %s: interval %s below 1s", j.Name, j.Interval)
	}
	switch j.Type {
	case task.TypeRandomDM, task.TypeImagePost:
	default:
		return fmt.Errorf("recurring job %s: unsupported type %q", j.Name, j.Type)
	}
	return nil
}

// targetString is the audit/view rendering of the job's destination.
func (j JobConfig) targetString() string {
	switch j.Type {
	case task.TypeRandomDM:
		return fmt.Sprintf("random user (%d in pool)", len(j.UserIDs))
	case task.TypeImagePost:
		return task.Target{ChannelID: j.ChannelID, ThreadID: j.ThreadID}.String()
	}
	return ""
}

func (j JobConfig) actionString() string {
	switch j.Type {
	case task.TypeRandomDM:
		return "send a random DM"
	case task.TypeImagePost:
		if c := strings.TrimSpace(j.Caption); c != "" {
			return "post image: " + c
		}
		return "post image"
	}
	return ""
}
