package cli

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me/quiver/internal/config"
	"github.com/me/quiver/internal/store"
	"github.com/me/quiver/pkg/model"
)

// history records one run command's task outcomes. A nil *history
// records nothing.
type history struct {
	st          *store.SQLiteStore
	sessionID   string
	frameworkID string
	logger      *slog.Logger
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*history, error) {
	if cfg.History.Path == "" {
		return nil, nil
	}
	st, err := store.NewSQLiteStore(cfg.History.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	id := uuid.NewString()
	h := &history{st: st, sessionID: id, logger: logger.With("session_id", id)}
	sess := &store.Session{ID: h.sessionID, Name: cfg.Framework.Name, StartedAt: time.Now()}
	if err := st.CreateSession(ctx, sess); err != nil {
		st.Close()
		return nil, err
	}
	h.logger.Info("recording history", "path", cfg.History.Path)
	return h, nil
}

func (h *history) setFramework(id string) {
	if h != nil {
		h.frameworkID = id
	}
}

// record stores a settled task. Failures are logged; they never fail the run.
func (h *history) record(ctx context.Context, summary model.TaskSummary, r taskResult) {
	if h == nil {
		return
	}
	rec := &store.TaskRecord{TaskSummary: summary, SessionID: h.sessionID}
	if r.err != nil {
		rec.Result = r.err.Error()
	} else {
		rec.Result = formatValue(r.value)
	}
	if err := h.st.RecordTask(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("record task", "task_id", summary.ID, "error", err)
	}
}

func (h *history) close() {
	if err := h.st.FinishSession(context.Background(), h.sessionID, h.frameworkID, time.Now()); err != nil {
		h.logger.Warn("finish session", "error", err)
	}
	if err := h.st.Close(); err != nil {
		h.logger.Warn("close history", "error", err)
	}
}

func newHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show recorded sessions, or the tasks of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewSQLiteStore(dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate history: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				sessions, total, err := st.ListSessions(ctx, store.ListOptions{Limit: limit})
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "SESSION\tNAME\tSTARTED\tTASKS\tFAILED")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.ID, s.Name, s.StartedAt.Local().Format(time.DateTime), s.Tasks, s.Failed)
				}
				if total > len(sessions) {
					fmt.Fprintf(w, "(%d of %d sessions)\n", len(sessions), total)
				}
				return nil
			}

			if _, err := st.GetSession(ctx, args[0]); err != nil {
				return err
			}
			recs, err := st.ListTasks(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "TASK\tNAME\tSTATE\tRESULT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.State, r.Result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "quiver-history.db", "History database (SQLite)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to list")
	return cmd
}
