package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/quiver/pkg/resources"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Framework.Name != "quiver" {
		t.Errorf("Framework.Name = %q, want quiver", cfg.Framework.Name)
	}
	if cfg.Scheduler.MaxTasksPerOffer != 1 {
		t.Errorf("MaxTasksPerOffer = %d, want 1", cfg.Scheduler.MaxTasksPerOffer)
	}
	cc, err := cfg.ClusterConfig()
	if err != nil {
		t.Fatalf("ClusterConfig: %v", err)
	}
	if len(cc.Nodes) != 1 {
		t.Errorf("default cluster has %d nodes, want 1", len(cc.Nodes))
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "quiver.yaml", `
framework:
  name: batch
  user: alice
scheduler:
  max_tasks_per_offer: 0
  refuse_seconds: 2.5
cluster:
  offer_interval: 250ms
  nodes:
    - hostname: n1
      cpus: 8
      mem: 16384
    - hostname: n2
      cpus: 2
      mem: 1024
      gpus: 1
log:
  level: debug
  format: json
server:
  addr: 127.0.0.1:9090
history:
  path: /var/lib/quiver/history.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sc := cfg.SchedulerConfig()
	if sc.Name != "batch" || sc.User != "alice" || sc.MaxTasksPerOffer != 0 || sc.RefuseSeconds != 2.5 {
		t.Errorf("SchedulerConfig = %+v", sc)
	}

	cc, err := cfg.ClusterConfig()
	if err != nil {
		t.Fatalf("ClusterConfig: %v", err)
	}
	if cc.OfferInterval != 250*time.Millisecond {
		t.Errorf("OfferInterval = %s, want 250ms", cc.OfferInterval)
	}
	if len(cc.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(cc.Nodes))
	}
	n2 := cc.Nodes[1].Resources
	if n2.AmountOf(resources.GPUs) != 1 || n2.AmountOf(resources.Disk) != 0 {
		t.Errorf("n2 resources = %s", n2)
	}
	if len(n2) != 3 {
		t.Errorf("zero kinds should be omitted, got %s", n2)
	}

	lo := cfg.LogOptions()
	if lo.Level != "debug" || lo.Format != "json" {
		t.Errorf("LogOptions = %+v", lo)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.History.Path != "/var/lib/quiver/history.db" {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "framework:\n  nam: x\n", "field nam not found"},
		{"negative cap", "scheduler:\n  max_tasks_per_offer: -1\n", "max_tasks_per_offer"},
		{"negative node", "cluster:\n  nodes:\n    - hostname: a\n      cpus: -1\n", "cluster.nodes[0]"},
		{"empty name", "framework:\n  name: \"\"\n", "framework.name"},
		{"bad yaml", "framework: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadJobs(t *testing.T) {
	path := writeFile(t, "jobs.yaml", `
jobs:
  - name: hello
    command: echo hello
    cpus: 0.5
    mem: 32
  - name: sums
    count: 3
    cpus: 0.1
    closure:
      fn: sum
      args: [5, 6]
  - name: script
    closure:
      script: "function(a, b, kw) { return a + b + kw.bias }"
      args: [1, 2]
      kwargs:
        bias: 10
  - name: plain
    command: /bin/echo
    shell: false
    args: [a, b]
    image: alpine:3
    resources:
      ports: 2
`)
	jf, err := LoadJobs(path)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(jf.Jobs) != 4 {
		t.Fatalf("jobs = %d, want 4", len(jf.Jobs))
	}

	hello := jf.Jobs[0].Tasks()
	if len(hello) != 1 || hello[0].Name != "hello" || !hello[0].Shell || hello[0].Command != "echo hello" {
		t.Errorf("hello tasks = %+v", hello)
	}
	if got := hello[0].Resources.AmountOf(resources.CPUs); got != 0.5 {
		t.Errorf("hello cpus = %v", got)
	}

	sums := jf.Jobs[1].Tasks()
	if len(sums) != 3 {
		t.Fatalf("sums tasks = %d, want 3", len(sums))
	}
	if sums[2].Name != "sums-2" || sums[2].Closure == nil || sums[2].Closure.Fn != "sum" {
		t.Errorf("sums[2] = %+v", sums[2])
	}

	script := jf.Jobs[2].Tasks()[0]
	if script.Closure == nil || script.Closure.Kwargs["bias"] != 10 {
		t.Errorf("script closure = %+v", script.Closure)
	}

	plain := jf.Jobs[3].Tasks()[0]
	if plain.Shell || plain.Image != "alpine:3" || len(plain.Args) != 2 {
		t.Errorf("plain = %+v", plain)
	}
	if got := plain.Resources.AmountOf("ports"); got != 2 {
		t.Errorf("plain ports = %v, want 2", got)
	}
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"command", Job{Command: "true"}, false},
		{"closure", Job{Closure: &ClosureJob{Fn: "sum"}}, false},
		{"neither", Job{}, true},
		{"both", Job{Command: "true", Closure: &ClosureJob{Fn: "sum"}}, true},
		{"closure fn and script", Job{Closure: &ClosureJob{Fn: "sum", Script: "function() {}"}}, true},
		{"closure with image", Job{Image: "alpine", Closure: &ClosureJob{Fn: "sum"}}, true},
		{"negative count", Job{Command: "true", Count: -1}, true},
		{"negative cpus", Job{Command: "true", CPUs: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadJobs_Empty(t *testing.T) {
	if _, err := LoadJobs(writeFile(t, "jobs.yaml", "jobs: []\n")); err == nil {
		t.Fatal("expected error for empty job file")
	}
}
