package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/scheduler"
)

// JobFile lists the tasks a run submits.
type JobFile struct {
	Jobs []Job `yaml:"jobs"`
}

// Job describes one task, or Count identical tasks. Exactly one of
// Command and Closure must be set.
type Job struct {
	Name  string             `yaml:"name"`
	Count int                `yaml:"count"`
	CPUs  float64            `yaml:"cpus"`
	Mem   float64            `yaml:"mem"`
	Disk  float64            `yaml:"disk"`
	GPUs  float64            `yaml:"gpus"`
	Extra map[string]float64 `yaml:"resources"`

	Command string   `yaml:"command"`
	Shell   *bool    `yaml:"shell"` // default true
	Args    []string `yaml:"args"`
	Image   string   `yaml:"image"`

	Closure *ClosureJob `yaml:"closure"`
}

// ClosureJob is the closure form of a job.
type ClosureJob struct {
	Fn     string         `yaml:"fn"`
	Script string         `yaml:"script"`
	Args   []any          `yaml:"args"`
	Kwargs map[string]any `yaml:"kwargs"`
}

// LoadJobs reads and validates a job file.
func LoadJobs(path string) (JobFile, error) {
	var jf JobFile
	data, err := os.ReadFile(path)
	if err != nil {
		return jf, fmt.Errorf("read jobs: %w", err)
	}
	if err := decodeStrict(data, &jf); err != nil {
		return jf, fmt.Errorf("parse jobs %s: %w", path, err)
	}
	if len(jf.Jobs) == 0 {
		return jf, fmt.Errorf("jobs %s: no jobs", path)
	}
	for i, j := range jf.Jobs {
		if err := j.Validate(); err != nil {
			return jf, fmt.Errorf("jobs[%d] %q: %w", i, j.Name, err)
		}
	}
	return jf, nil
}

// Validate checks a job on its own.
func (j Job) Validate() error {
	switch {
	case j.Count < 0:
		return errors.New("count must not be negative")
	case j.Command != "" && j.Closure != nil:
		return errors.New("job has both a command and a closure")
	case j.Command == "" && j.Closure == nil:
		return errors.New("job has neither a command nor a closure")
	case j.Closure != nil && j.Image != "":
		return errors.New("closure jobs cannot set an image")
	}
	if j.Closure != nil {
		if err := j.Closure.call().Validate(); err != nil {
			return err
		}
	}
	return j.Resources().Validate()
}

// Resources returns the job's resource demand; zero kinds are omitted.
func (j Job) Resources() resources.List {
	pairs := map[resources.Kind]float64{
		resources.CPUs: j.CPUs,
		resources.Mem:  j.Mem,
		resources.Disk: j.Disk,
		resources.GPUs: j.GPUs,
	}
	for k, v := range j.Extra {
		pairs[resources.Kind(k)] += v
	}
	var list resources.List
	for _, q := range resources.Of(pairs) {
		if q.Amount != 0 {
			list = append(list, q)
		}
	}
	return list
}

// Tasks expands the job into task configurations.
func (j Job) Tasks() []scheduler.TaskConfig {
	n := max(j.Count, 1)
	out := make([]scheduler.TaskConfig, 0, n)
	for i := 0; i < n; i++ {
		name := j.Name
		if n > 1 {
			name = fmt.Sprintf("%s-%d", j.Name, i)
		}
		tc := scheduler.TaskConfig{
			Name:      name,
			Resources: j.Resources(),
		}
		if j.Closure != nil {
			call := j.Closure.call()
			tc.Closure = &call
		} else {
			tc.Command = j.Command
			tc.Shell = j.Shell == nil || *j.Shell
			tc.Args = j.Args
			tc.Image = j.Image
		}
		out = append(out, tc)
	}
	return out
}

func (c *ClosureJob) call() closure.Call {
	return closure.Call{Fn: c.Fn, Script: c.Script, Args: c.Args, Kwargs: c.Kwargs}
}
