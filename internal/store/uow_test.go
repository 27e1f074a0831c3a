package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

var errStep = errors.New("step failed")

func TestRunInUnitOfWorkCommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	called := false
	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
	if !called {
		t.Error("callback never ran")
	}
}

func TestRunInUnitOfWorkRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		return errStep
	})
	if !errors.Is(err, errStep) {
		t.Fatalf("err = %v, want errStep", err)
	}
}

func TestRunInUnitOfWorkRollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	defer func() {
		if recover() == nil {
			t.Fatal("panic did not propagate")
		}
	}()
	_ = RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		panic("boom")
	})
}

func TestUnitOfWorkRepositoryCaching(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	uow, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer uow.Close()

	if uow.Asteroids() != uow.Asteroids() {
		t.Error("Asteroids() built a second instance")
	}
	if uow.Approaches() != uow.Approaches() {
		t.Error("Approaches() built a second instance")
	}
	if uow.Threats() != uow.Threats() {
		t.Error("Threats() built a second instance")
	}
}

func TestCoordinatedOperationPartialRollback(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	var partial []any
	ops := []Operation{
		func(ctx context.Context, uow *UnitOfWork) (any, error) { return "first", nil },
		func(ctx context.Context, uow *UnitOfWork) (any, error) { return "second", nil },
		func(ctx context.Context, uow *UnitOfWork) (any, error) { return nil, errStep },
	}
	_, err := CoordinatedOperation(context.Background(), db, ops, func(p []any) { partial = p })
	if !errors.Is(err, errStep) {
		t.Fatalf("err = %v, want errStep", err)
	}
	if want := []any{"first", "second"}; !reflect.DeepEqual(partial, want) {
		t.Errorf("partial = %v, want %v", partial, want)
	}
}

func TestCoordinatedOperationSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ops := []Operation{
		func(ctx context.Context, uow *UnitOfWork) (any, error) { return 1, nil },
		func(ctx context.Context, uow *UnitOfWork) (any, error) { return 2, nil },
	}
	results, err := CoordinatedOperation(context.Background(), db, ops, nil)
	if err != nil {
		t.Fatalf("CoordinatedOperation: %v", err)
	}
	if want := []any{1, 2}; !reflect.DeepEqual(results, want) {
		t.Errorf("results = %v, want %v", results, want)
	}
}

func TestWorkflowSkipsUnmetConditions(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	steps := []Step{
		{
			Name: "fetch",
			Run:  func(ctx context.Context, uow *UnitOfWork) (any, error) { return 0, nil },
		},
		{
			Name:      "process",
			Condition: func(results map[string]any) bool { return results["fetch"].(int) > 0 },
			Run: func(ctx context.Context, uow *UnitOfWork) (any, error) {
				t.Error("gated step ran despite unmet condition")
				return nil, nil
			},
		},
	}
	result, err := Workflow(context.Background(), db, steps)
	if err != nil {
		t.Fatalf("Workflow: %v", err)
	}
	if want := []string{"process"}; !reflect.DeepEqual(result.Skipped, want) {
		t.Errorf("Skipped = %v, want %v", result.Skipped, want)
	}
}

func TestWorkflowAbortsAndRunsStepRollback(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	rolledBack := false
	ranAfterFailure := false
	steps := []Step{
		{
			Name: "first",
			Run:  func(ctx context.Context, uow *UnitOfWork) (any, error) { return "ok", nil },
		},
		{
			Name: "failing",
			Run:  func(ctx context.Context, uow *UnitOfWork) (any, error) { return nil, errStep },
			Rollback: func(results map[string]any, err error) {
				rolledBack = true
				if results["first"] != "ok" {
					t.Errorf("rollback results = %v, want first=ok", results)
				}
			},
		},
		{
			Name: "never",
			Run: func(ctx context.Context, uow *UnitOfWork) (any, error) {
				ranAfterFailure = true
				return nil, nil
			},
		},
	}
	_, err := Workflow(context.Background(), db, steps)
	if !errors.Is(err, errStep) {
		t.Fatalf("err = %v, want errStep", err)
	}
	if !rolledBack {
		t.Error("step rollback hook never ran")
	}
	if ranAfterFailure {
		t.Error("steps after the failure still ran")
	}
}
