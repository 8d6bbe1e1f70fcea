package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/progress"
	"github.com/open-policy-agent/ocp-reposync/internal/service"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch and check out every selected repository once",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
	cmd.Flags().StringSlice("only", nil, "Sync only repositories matching these glob patterns")
	cmd.Flags().Int("jobs", 4, "Number of parallel sync workers")
	cmd.Flags().Bool("no-progress", false, "Do not show a progress bar")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	only, _ := cmd.Flags().GetStringSlice("only")
	jobs, _ := cmd.Flags().GetInt("jobs")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	if jobs < 1 {
		return fmt.Errorf("--jobs must be >= 1 (got %d)", jobs)
	}

	root, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	repos, err := selectRepositories(root, only)
	if err != nil {
		return err
	}

	log := newLogger(cmd, root)
	ctx := cmd.Context()

	eng, err := newEngine(ctx, root, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	var bar *progress.Bar
	if !noProgress {
		bar = progress.New(cmd.ErrOrStderr(), "Syncing")
	}
	bar.AddMax(len(repos))

	workers, err := newWorkers(eng, repos, bar)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(jobs)
	for _, w := range workers {
		g.Go(func() error {
			w.WithSingleShot(true).Execute(ctx)
			return nil
		})
	}
	_ = g.Wait()
	bar.Finish()

	failed, err := writeStatus(cmd.OutOrStdout(), workers)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failed, len(workers))
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Sync complete.")
	return nil
}

// newWorkers returns one worker per repository. Each worker has its own build log so git output of
// concurrent syncs stays attributable.
func newWorkers(eng *engine, repos []*config.Repository, bar *progress.Bar) ([]*service.RepositoryWorker, error) {
	workers := make([]*service.RepositoryWorker, 0, len(repos))
	for _, repo := range repos {
		log := eng.log.With("repository", repo.Name)

		helper, err := eng.helper(logging.NewBuildLog(nil, log))
		if err != nil {
			return nil, err
		}

		workers = append(workers, service.NewRepositoryWorker(repo, helper, log, bar))
	}
	return workers, nil
}

// writeStatus renders the latest status of every worker and returns how many are not in sync.
func writeStatus(w io.Writer, workers []*service.RepositoryWorker) (int, error) {
	var failed int

	table := tablewriter.NewWriter(w)
	table.Header("Name", "State", "Revision", "Message")
	for _, wk := range workers {
		s := wk.Status()
		if s.State != service.SyncStateSuccess {
			failed++
		}
		if err := table.Append(wk.Name(), s.State.String(), s.Revision, s.Message); err != nil {
			return failed, err
		}
	}

	return failed, table.Render()
}
