// Package config holds the quiver configuration and job file formats.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/quiver/internal/localcluster"
	"github.com/me/quiver/internal/logging"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/scheduler"
)

// Config is the top-level configuration file.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
}

// FrameworkConfig describes how the scheduler registers.
type FrameworkConfig struct {
	Name string `yaml:"name"`
	User string `yaml:"user"`
	Role string `yaml:"role"`
}

// SchedulerConfig tunes offer matching.
type SchedulerConfig struct {
	MaxTasksPerOffer int     `yaml:"max_tasks_per_offer"`
	RefuseSeconds    float64 `yaml:"refuse_seconds"`
}

// ClusterConfig configures the local cluster.
type ClusterConfig struct {
	OfferInterval time.Duration `yaml:"offer_interval"`
	DetectHost    bool          `yaml:"detect_host"`
	WorkDir       string        `yaml:"work_dir"`
	Nodes         []NodeConfig  `yaml:"nodes"`
}

// NodeConfig is one local cluster node. Mem and disk are in MiB.
type NodeConfig struct {
	Hostname string  `yaml:"hostname"`
	CPUs     float64 `yaml:"cpus"`
	Mem      float64 `yaml:"mem"`
	Disk     float64 `yaml:"disk"`
	GPUs     float64 `yaml:"gpus"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig configures the status API. An empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig names the SQLite file task outcomes are recorded in. An
// empty Path disables recording.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Default returns sensible defaults.
func Default() Config {
	sched := scheduler.DefaultConfig()
	return Config{
		Framework: FrameworkConfig{Name: sched.Name},
		Scheduler: SchedulerConfig{
			MaxTasksPerOffer: sched.MaxTasksPerOffer,
			RefuseSeconds:    sched.RefuseSeconds,
		},
		Cluster: ClusterConfig{
			OfferInterval: localcluster.DefaultConfig().OfferInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration at path over the defaults. Unknown keys are
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decodeStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Framework.Name == "" {
		return errors.New("framework.name is required")
	}
	if c.Scheduler.MaxTasksPerOffer < 0 {
		return errors.New("scheduler.max_tasks_per_offer must not be negative")
	}
	if c.Scheduler.RefuseSeconds < 0 {
		return errors.New("scheduler.refuse_seconds must not be negative")
	}
	if c.Cluster.OfferInterval < 0 {
		return errors.New("cluster.offer_interval must not be negative")
	}
	for i, n := range c.Cluster.Nodes {
		if err := n.Resources().Validate(); err != nil {
			return fmt.Errorf("cluster.nodes[%d]: %w", i, err)
		}
	}
	return nil
}

// Resources returns the node capacity, omitting kinds left at zero.
func (n NodeConfig) Resources() resources.List {
	var list resources.List
	for _, q := range []resources.Quantity{
		{Kind: resources.CPUs, Amount: n.CPUs},
		{Kind: resources.Mem, Amount: n.Mem},
		{Kind: resources.Disk, Amount: n.Disk},
		{Kind: resources.GPUs, Amount: n.GPUs},
	} {
		if q.Amount != 0 {
			list = append(list, q)
		}
	}
	return list
}

// SchedulerConfig converts to the scheduler's configuration.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Name:             c.Framework.Name,
		User:             c.Framework.User,
		Role:             c.Framework.Role,
		MaxTasksPerOffer: c.Scheduler.MaxTasksPerOffer,
		RefuseSeconds:    c.Scheduler.RefuseSeconds,
	}
}

// ClusterConfig converts to the local cluster's configuration. With
// detect_host the machine itself is added as a node; with no nodes at all
// the default single node is used.
func (c Config) ClusterConfig() (localcluster.Config, error) {
	out := localcluster.DefaultConfig()
	defaultNodes := out.Nodes
	out.Nodes = nil
	if c.Cluster.OfferInterval > 0 {
		out.OfferInterval = c.Cluster.OfferInterval
	}
	if c.Cluster.DetectHost {
		n, err := localcluster.HostNode(c.Cluster.WorkDir)
		if err != nil {
			return out, fmt.Errorf("detect host: %w", err)
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, n := range c.Cluster.Nodes {
		out.Nodes = append(out.Nodes, localcluster.Node{Hostname: n.Hostname, Resources: n.Resources()})
	}
	if len(out.Nodes) == 0 {
		out.Nodes = defaultNodes
	}
	return out, nil
}

// LogOptions converts to logging options.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
