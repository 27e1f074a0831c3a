package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Operation is one step of a coordinated multi-step write. It receives
// the shared unit of work and returns a result carried to later steps.
type Operation func(ctx context.Context, uow *UnitOfWork) (any, error)

// CoordinatedOperation runs ops sequentially inside one unit of work.
// On the first failure it hands the partial results to onRollback (when
// set), rolls the transaction back, and returns the failing op's error.
// On success every result is returned in op order and the work commits.
func CoordinatedOperation(ctx context.Context, db *DB, ops []Operation, onRollback func(partial []any)) ([]any, error) {
	uow, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close()

	results := make([]any, 0, len(ops))
	for i, op := range ops {
		result, err := op(ctx, uow)
		if err != nil {
			if onRollback != nil {
				onRollback(results)
			}
			if rbErr := uow.Rollback(); rbErr != nil {
				db.logger.Warn("rollback failed", zap.Int("op", i), zap.Error(rbErr))
			}
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		results = append(results, result)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

// Step is one named stage of a Workflow.
type Step struct {
	Name string
	// Condition gates the step on earlier results. A nil Condition
	// always runs; an unmet one records the step as skipped.
	Condition func(results map[string]any) bool
	// Run does the step's work inside the shared unit of work.
	Run Operation
	// Rollback, when set, is invoked with the accumulated results and
	// the error before the workflow aborts.
	Rollback func(results map[string]any, err error)
}

// WorkflowResult reports what a workflow did: results keyed by step name
// plus the steps whose conditions were not met.
type WorkflowResult struct {
	Results map[string]any
	Skipped []string
}

// Workflow runs steps in order inside one unit of work. A step whose
// condition is unmet is recorded as skipped and the workflow continues.
// A failing step runs its rollback hook, aborts the remainder, and rolls
// the transaction back.
func Workflow(ctx context.Context, db *DB, steps []Step) (*WorkflowResult, error) {
	uow, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close()

	out := &WorkflowResult{Results: make(map[string]any, len(steps))}
	for _, step := range steps {
		if step.Condition != nil && !step.Condition(out.Results) {
			out.Skipped = append(out.Skipped, step.Name)
			continue
		}
		result, err := step.Run(ctx, uow)
		if err != nil {
			if step.Rollback != nil {
				step.Rollback(out.Results, err)
			}
			if rbErr := uow.Rollback(); rbErr != nil {
				db.logger.Warn("rollback failed", zap.String("step", step.Name), zap.Error(rbErr))
			}
			return out, fmt.Errorf("step %s: %w", step.Name, err)
		}
		out.Results[step.Name] = result
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
