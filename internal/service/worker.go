package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
	"github.com/open-policy-agent/ocp-reposync/internal/gitsync"
	"github.com/open-policy-agent/ocp-reposync/internal/logging"
	"github.com/open-policy-agent/ocp-reposync/internal/metrics"
	"github.com/open-policy-agent/ocp-reposync/internal/progress"
	pkgsync "github.com/open-policy-agent/ocp-reposync/pkg/sync"
)

var (
	defaultInterval = 30 * time.Second
	errorInterval   = 30 * time.Second
)

type SyncState int

const (
	SyncStatePending SyncState = iota
	SyncStateSuccess
	SyncStateInitFailed
	SyncStateCredentialsFailed
	SyncStateFetchFailed
	SyncStateCheckoutFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncStatePending:
		return "PENDING"
	case SyncStateSuccess:
		return "SUCCESS"
	case SyncStateInitFailed:
		return "INIT_FAILED"
	case SyncStateCredentialsFailed:
		return "CREDENTIALS_FAILED"
	case SyncStateFetchFailed:
		return "FETCH_FAILED"
	case SyncStateCheckoutFailed:
		return "CHECKOUT_FAILED"
	}
	return fmt.Sprintf("SyncState(%d)", int(s))
}

// Status is the outcome of the latest sync of a repository.
type Status struct {
	State    SyncState
	Message  string
	Revision string
	Time     time.Time
}

// RepositoryWorker keeps one repository's working directory in sync: it prepares the directory, fetches
// the configured reference and checks out the configured revision. Execute has the signature of a pool
// task and returns when it wants to run next.
type RepositoryWorker struct {
	repo       *config.Repository
	helper     gitsync.Helper
	provider   pkgsync.SecretProvider
	log        *logging.Logger
	bar        *progress.Bar
	singleShot bool
	interval   time.Duration
	done       chan struct{}

	mu     sync.Mutex
	status Status
}

func NewRepositoryWorker(repo *config.Repository, helper gitsync.Helper, logger *logging.Logger, bar *progress.Bar) *RepositoryWorker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RepositoryWorker{
		repo:     repo,
		helper:   helper,
		log:      logger,
		bar:      bar,
		interval: cmp.Or(repo.SyncInterval(), defaultInterval),
		done:     make(chan struct{}),
	}
}

// WithSecretProvider makes the worker resolve credentials through provider instead of the configuration.
func (w *RepositoryWorker) WithSecretProvider(provider pkgsync.SecretProvider) *RepositoryWorker {
	w.provider = provider
	return w
}

func (w *RepositoryWorker) WithSingleShot(singleShot bool) *RepositoryWorker {
	w.singleShot = singleShot
	return w
}

func (w *RepositoryWorker) WithInterval(d time.Duration) *RepositoryWorker {
	w.interval = cmp.Or(d, defaultInterval)
	return w
}

func (w *RepositoryWorker) Name() string {
	return w.repo.Name
}

func (w *RepositoryWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *RepositoryWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Execute runs one sync iteration: prepare the working directory, fetch and checkout.
func (w *RepositoryWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now()

	defer w.bar.Add(1)

	dir := w.repo.Directory

	if err := PrepareWorkingDirectory(dir); err != nil {
		w.log.Warnf("failed to prepare working directory for repository %q: %v", w.repo.Name, err)
		return w.report(SyncStateInitFailed, startTime, "", err)
	}

	d, err := w.repo.Descriptor(ctx, w.provider)
	if err != nil {
		w.log.Warnf("failed to resolve credentials for repository %q: %v", w.repo.Name, err)
		return w.report(SyncStateCredentialsFailed, startTime, "", err)
	}

	if err := w.helper.Fetch(ctx, dir, d, w.repo.FetchReference(), w.repo.Shallow); err != nil {
		w.log.Warnf("failed to fetch repository %q: %v", w.repo.Name, err)
		return w.report(SyncStateFetchFailed, startTime, "", err)
	}

	previous := w.Status().Revision
	revision, err := w.helper.Checkout(ctx, dir, w.repo.TargetRevision(), previous, w.repo.Submodules)
	if err != nil {
		w.log.Warnf("failed to check out repository %q: %v", w.repo.Name, err)
		return w.report(SyncStateCheckoutFailed, startTime, "", err)
	}

	if head, err := headCommit(dir); err == nil {
		revision = head
	} else {
		w.log.Debugf("cannot resolve HEAD of repository %q: %v", w.repo.Name, err)
	}

	if revision != previous {
		w.log.Infof("repository %q at revision %s", w.repo.Name, revision)
	} else {
		w.log.Debugf("repository %q unchanged at revision %s", w.repo.Name, revision)
	}

	return w.report(SyncStateSuccess, startTime, revision, nil)
}

func (w *RepositoryWorker) report(state SyncState, startTime time.Time, revision string, err error) time.Time {
	interval := w.interval

	w.mu.Lock()
	w.status.State = state
	w.status.Time = time.Now()
	if err != nil {
		interval = errorInterval // faster retry on error
		w.status.Message = err.Error()
	} else {
		w.status.Message = ""
		w.status.Revision = revision
	}
	w.mu.Unlock()

	if state == SyncStateSuccess {
		metrics.RepositorySyncSucceeded(w.repo.Name, startTime)
	} else {
		metrics.RepositorySyncFailed(w.repo.Name, state.String())
	}

	if w.singleShot {
		return w.die()
	}

	return time.Now().Add(interval)
}

func (w *RepositoryWorker) die() time.Time {
	select {
	case <-w.done:
	default:
		close(w.done)
	}

	var zero time.Time
	return zero
}

// PrepareWorkingDirectory makes sure dir holds a git repository, initializing an empty one if it does not.
func PrepareWorkingDirectory(dir string) error {
	_, err := git.PlainOpen(dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	_, err = git.PlainInit(dir, false)
	return err
}

func headCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}
