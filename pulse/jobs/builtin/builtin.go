// Package builtin registers the job types every cadence node can run
// without application code: a heartbeat and execution history pruning.
package builtin

import (
	"context"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/schedule"
)

// Job type IDs of the built-in jobs
const (
	HeartbeatJobType       = "cadence.heartbeat"
	PruneExecutionsJobType = "cadence.prune-executions"
)

// Options configures the built-in jobs
type Options struct {
	Dialect db.Dialect
	// Retention is how long execution history is kept; zero keeps it forever
	Retention time.Duration
}

// Register adds the built-in job types to f
func Register(f *jobs.Factory, opts Options) {
	f.Register(HeartbeatJobType, newHeartbeat)
	f.Register(PruneExecutionsJobType, func(scope *jobs.Scope) (jobs.Job, error) {
		return newPruneExecutions(scope, opts)
	})
}

// heartbeat logs that the node holding the trigger is alive and on time
type heartbeat struct {
	scope *jobs.Scope
}

func newHeartbeat(scope *jobs.Scope) (jobs.Job, error) {
	return &heartbeat{scope: scope}, nil
}

func (h *heartbeat) Execute(ctx context.Context, ec *jobs.ExecutionContext) error {
	h.scope.Logger().Infow("Heartbeat",
		logger.FieldJobIdentity, ec.JobIdentity,
		logger.FieldHolderID, ec.HolderID,
		logger.FieldFireTime, ec.FireTime,
		logger.FieldLateBy, ec.LateBy(),
		"misfired", ec.Misfired,
	)
	return nil
}

// pruneExecutions deletes finished execution history older than the retention.
// The delete runs in the scope's transaction, which commits on release.
type pruneExecutions struct {
	scope *jobs.Scope
	opts  Options
}

func newPruneExecutions(scope *jobs.Scope, opts Options) (jobs.Job, error) {
	if opts.Retention > 0 && scope.DB() == nil {
		return nil, errors.New("prune-executions needs a database")
	}
	return &pruneExecutions{scope: scope, opts: opts}, nil
}

func (p *pruneExecutions) Execute(ctx context.Context, ec *jobs.ExecutionContext) error {
	if p.opts.Retention <= 0 {
		return nil
	}

	tx, err := p.scope.Tx(ctx)
	if err != nil {
		return err
	}

	cutoff := ec.FireTime.Add(-p.opts.Retention)
	deleted, err := schedule.NewExecutionStore(tx, p.opts.Dialect).PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	p.scope.Logger().Infow("Pruned execution history",
		logger.FieldCount, deleted,
		"cutoff", cutoff,
		"retention", p.opts.Retention,
	)
	return nil
}
