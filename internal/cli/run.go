package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/quiver/internal/config"
	"github.com/me/quiver/internal/executor"
	"github.com/me/quiver/internal/localcluster"
	"github.com/me/quiver/internal/logging"
	"github.com/me/quiver/internal/metrics"
	"github.com/me/quiver/internal/server"
	"github.com/me/quiver/pkg/closure"
	"github.com/me/quiver/pkg/proxy"
	"github.com/me/quiver/pkg/scheduler"
)

// errTasksFailed makes the command exit non-zero after printing results.
var errTasksFailed = errors.New("one or more tasks failed")

type runOptions struct {
	configPath string
	jobsPath   string
	listen     string
	timeout    time.Duration
	linger     bool
	history    string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a job file on a local cluster",
		Long: `Starts an in-process cluster described by the configuration, registers the
scheduler with it, submits every task of the job file and waits for all of
them. One line per task is printed with its outcome.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if opts.configPath != "" {
				var err error
				if cfg, err = config.Load(opts.configPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Addr = opts.listen
			}
			if cmd.Flags().Changed("history") {
				cfg.History.Path = opts.history
			}
			if cmd.Flags().Changed("log-level") || flagDebug {
				cfg.Log.Level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = flagLogFormat
			}

			jobs, err := config.LoadJobs(opts.jobsPath)
			if err != nil {
				return err
			}

			runLogger, closer, err := logging.Open(cfg.LogOptions())
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			return runJobs(ctx, cfg, jobs, opts.linger, cmd.OutOrStdout(), runLogger)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML)")
	cmd.Flags().StringVarP(&opts.jobsPath, "jobs", "j", "", "Job file (YAML)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Serve the status API on this address while running")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up after this long (0 = no limit)")
	cmd.Flags().BoolVar(&opts.linger, "linger", false, "Keep serving the status API after all tasks finish, until interrupted")
	cmd.Flags().StringVar(&opts.history, "history", "", "Record task outcomes in this SQLite file")
	_ = cmd.MarkFlagRequired("jobs")
	return cmd
}

type taskResult struct {
	id    string
	name  string
	value any
	err   error
}

// runJobs drives one scheduling session against a local cluster.
func runJobs(ctx context.Context, cfg config.Config, jobs config.JobFile, linger bool, out io.Writer, logger *slog.Logger) error {
	clusterCfg, err := cfg.ClusterConfig()
	if err != nil {
		return err
	}

	execs := executor.NewRegistry(logger)
	execs.Register(executor.NewCommandExecutor(cfg.Cluster.WorkDir, logger))
	execs.Register(executor.NewDockerExecutor(cfg.Cluster.WorkDir, logger))
	execs.Register(executor.NewClosureExecutor(closure.NewExecutor(closure.Builtin(), logger)))

	cluster, err := localcluster.New(clusterCfg, execs, scheduler.DefaultRegistry(), logger)
	if err != nil {
		return err
	}

	hist, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.close()
	}

	m := metrics.New()
	sched := scheduler.New(cfg.SchedulerConfig(), scheduler.DefaultRegistry(), logger)
	sched.SetObserver(m)

	var results []taskResult
	err = scheduler.Running(ctx, cluster, sched, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		srvCtx, stopServer := context.WithCancel(gctx)
		defer stopServer()

		if cfg.Server.Addr != "" {
			srv := server.New(sched, logger, server.WithMetrics(m.Handler()), server.WithVersion(Version))
			g.Go(func() error { return srv.ListenAndServe(srvCtx, cfg.Server.Addr) })
		}

		futures, names, err := submitJobs(sched, jobs)
		if err != nil {
			stopServer()
			_ = g.Wait()
			return err
		}
		logger.Info("jobs submitted", "tasks", len(futures))

		results = make([]taskResult, len(futures))
		for i, f := range futures {
			v, err := f.Get(gctx)
			results[i] = taskResult{id: f.TaskID(), name: names[i], value: v, err: err}
			if summary, ok := sched.Get(f.TaskID()); ok {
				hist.record(ctx, summary, results[i])
			}
		}
		hist.setFramework(sched.FrameworkID())

		if linger && cfg.Server.Addr != "" {
			logger.Info("all tasks settled, serving until interrupted")
			<-ctx.Done()
		}
		stopServer()
		return g.Wait()
	})

	failed := printResults(out, results)
	if err != nil {
		return err
	}
	if failed > 0 {
		return errTasksFailed
	}
	return nil
}

func submitJobs(sched *scheduler.Scheduler, jobs config.JobFile) ([]*scheduler.Future, []string, error) {
	var futures []*scheduler.Future
	var names []string
	for _, job := range jobs.Jobs {
		for _, tc := range job.Tasks() {
			task, err := scheduler.NewTask(tc)
			if err != nil {
				return nil, nil, fmt.Errorf("job %q: %w", job.Name, err)
			}
			f, err := sched.Submit(task)
			if err != nil {
				return nil, nil, fmt.Errorf("job %q: %w", job.Name, err)
			}
			futures = append(futures, f)
			names = append(names, tc.Name)
		}
	}
	return futures, names, nil
}

// printResults writes one line per task and returns how many failed.
func printResults(out io.Writer, results []taskResult) int {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "%s\t%s\tFAILED\t%v\n", r.id, r.name, r.err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\tOK\t%s\n", r.id, r.name, formatValue(r.value))
	}
	return failed
}

func formatValue(v any) string {
	if st, ok := v.(proxy.Status); ok {
		return strings.TrimSpace(string(st.Data()))
	}
	return fmt.Sprint(v)
}
