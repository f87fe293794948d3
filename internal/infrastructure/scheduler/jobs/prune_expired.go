// Package jobs contains the scheduled maintenance jobs of the service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/learnmatch/progression/pkg/logger"
)

// Pruner drops expired entries and reports how many were removed.
type Pruner interface {
	PruneExpired(ctx context.Context) (int, error)
}

// PruneStats describes the last run of a PruneExpiredJob.
type PruneStats struct {
	FinishedAt time.Time
	Removed    map[string]int
}

type namedPruner struct {
	name   string
	pruner Pruner
}

// PruneExpiredJob drops expired stats snapshots and idempotency claims kept
// in process memory. Redis expires its keys on its own.
type PruneExpiredJob struct {
	targets []namedPruner
	logger  *logger.Logger

	mu   sync.Mutex
	last PruneStats
}

// NewPruneExpiredJob creates the job.
func NewPruneExpiredJob(log *logger.Logger) *PruneExpiredJob {
	if log == nil {
		log = logger.Nop()
	}
	return &PruneExpiredJob{logger: log.Named("prune-expired")}
}

// Add registers a target under name.
func (j *PruneExpiredJob) Add(name string, p Pruner) *PruneExpiredJob {
	j.targets = append(j.targets, namedPruner{name: name, pruner: p})
	return j
}

func (j *PruneExpiredJob) Name() string { return "prune_expired" }

func (j *PruneExpiredJob) Description() string {
	return "drops expired in-process cache entries and idempotency claims"
}

// Run prunes every target. A failing target does not stop the others.
func (j *PruneExpiredJob) Run(ctx context.Context) error {
	stats := PruneStats{Removed: make(map[string]int, len(j.targets))}
	var errs []error

	for _, t := range j.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := t.pruner.PruneExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		stats.Removed[t.name] = n
		if n > 0 {
			j.logger.Debug("pruned expired entries", logger.String("target", t.name), logger.Int("removed", n))
		}
	}
	stats.FinishedAt = time.Now()

	j.mu.Lock()
	j.last = stats
	j.mu.Unlock()

	return errors.Join(errs...)
}

// LastRun returns the stats of the last run.
func (j *PruneExpiredJob) LastRun() PruneStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
