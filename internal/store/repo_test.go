package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/perigee-sky/perigee/internal/astro"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	db := NewWithDB(mockDB, "sqlmock", DialectPostgres, nil)
	db.SetClock(func() time.Time { return testNow })
	return db, mock
}

func testAsteroid() astro.Asteroid {
	moid := 0.03
	return astro.Asteroid{
		Designation:         "2023 TEST",
		AbsoluteMagnitude:   20.5,
		EstimatedDiameterKm: 0.15,
		Albedo:              0.15,
		DiameterSource:      astro.DiameterCalculated,
		EarthMOIDAU:         &moid,
	}
}

func TestRepoRequiresSession(t *testing.T) {
	repo := &AsteroidRepo{&Repo[astro.Asteroid]{m: asteroidMeta()}}
	a := testAsteroid()

	if err := repo.Create(context.Background(), &a); !errors.Is(err, ErrNoSession) {
		t.Errorf("Create outside UoW: err = %v, want ErrNoSession", err)
	}
	if _, err := repo.GetByID(context.Background(), 1); !errors.Is(err, ErrNoSession) {
		t.Errorf("GetByID outside UoW: err = %v, want ErrNoSession", err)
	}
	if _, err := repo.BulkUpsert(context.Background(), []astro.Asteroid{a}, ConflictUpdate); !errors.Is(err, ErrNoSession) {
		t.Errorf("BulkUpsert outside UoW: err = %v, want ErrNoSession", err)
	}
}

func TestRepoUnusableAfterCommit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	uow, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	repo := uow.Asteroids()
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := repo.Count(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Count after commit: err = %v, want ErrNoSession", err)
	}
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO asteroids \(designation, name, .*\) VALUES \(\$1, .*\$14\) RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		a := testAsteroid()
		if err := uow.Asteroids().Create(context.Background(), &a); err != nil {
			return err
		}
		if a.ID != 7 {
			t.Errorf("ID = %d, want 7", a.ID)
		}
		if !a.CreatedAt.Equal(testNow) || !a.UpdatedAt.Equal(testNow) {
			t.Errorf("timestamps = %v/%v, want %v", a.CreatedAt, a.UpdatedAt, testNow)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestCreateRejectsInvalidEntity(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		a := testAsteroid()
		a.Albedo = 1.5 // out of (0, 1]
		return uow.Asteroids().Create(context.Background(), &a)
	})
	if err == nil {
		t.Fatal("invalid entity accepted")
	}
}

func TestBulkUpsertCreatedThenUpdated(t *testing.T) {
	db, mock := newMockDB(t)

	// First run inserts.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO asteroids .* ON CONFLICT \(designation\) DO UPDATE SET .* RETURNING id, \(xmax = 0\) AS inserted`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), true))
	mock.ExpectCommit()

	// Identical second run conflicts and updates.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO asteroids .* ON CONFLICT \(designation\) DO UPDATE SET .* RETURNING id, \(xmax = 0\) AS inserted`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), false))
	mock.ExpectCommit()

	for run, want := range []BulkResult{{Created: 1}, {Updated: 1}} {
		err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
			got, err := uow.Asteroids().BulkUpsert(context.Background(), []astro.Asteroid{testAsteroid()}, ConflictUpdate)
			if err != nil {
				return err
			}
			if got != want {
				t.Errorf("run %d: result = %+v, want %+v", run+1, got, want)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("run %d: %v", run+1, err)
		}
	}
}

func TestBulkUpsertDeduplicatesWithinBatch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	// Two rows collide on the designation: one VALUES tuple reaches SQL,
	// carrying the second row's magnitude.
	mock.ExpectQuery(`INSERT INTO asteroids .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10, \$11, \$12, \$13, \$14\) ON CONFLICT`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			21.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), true))
	mock.ExpectCommit()

	first := testAsteroid()
	second := testAsteroid()
	second.AbsoluteMagnitude = 21.0

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		got, err := uow.Asteroids().BulkUpsert(context.Background(), []astro.Asteroid{first, second}, ConflictUpdate)
		if err != nil {
			return err
		}
		if got.Created != 1 {
			t.Errorf("Created = %d, want 1", got.Created)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestBulkUpsertEmptyBatch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		got, err := uow.Asteroids().BulkUpsert(context.Background(), nil, ConflictUpdate)
		if err != nil {
			return err
		}
		if got != (BulkResult{}) {
			t.Errorf("result = %+v, want zero", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestBulkDeleteRequiresConditions(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		_, err := uow.Approaches().BulkDelete(context.Background(), nil)
		return err
	})
	if err == nil {
		t.Fatal("unconditional bulk delete accepted")
	}
}

func TestDeleteEarlierThan(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := testNow.Add(-24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM close_approaches WHERE approach_time < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		n, err := uow.Approaches().DeleteEarlierThan(context.Background(), cutoff)
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("deleted = %d, want 3", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestResolveDesignations(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, designation FROM asteroids WHERE designation IN \(\$1, \$2\)`).
		WithArgs("99942", "433").
		WillReturnRows(sqlmock.NewRows([]string{"id", "designation"}).AddRow(int64(1), "99942"))
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		ids, err := uow.Asteroids().ResolveDesignations(context.Background(), []string{"99942", "433"})
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids["99942"] != 1 {
			t.Errorf("ids = %v, want {99942: 1}", ids)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM asteroids WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		_, err := uow.Asteroids().GetByID(context.Background(), 42)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestFilterBuildsOrderedPaginatedQuery(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM close_approaches WHERE approach_time >= \$1 ORDER BY approach_time LIMIT \$2 OFFSET \$3`).
		WithArgs(testNow, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		_, err := uow.Approaches().Filter(context.Background(),
			map[string]any{"approach_time__ge": testNow}, 20, 10, "approach_time", false)
		return err
	})
	if err != nil {
		t.Fatalf("RunInUnitOfWork: %v", err)
	}
}

func TestUpdateRejectsUnknownColumn(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := RunInUnitOfWork(context.Background(), db, func(uow *UnitOfWork) error {
		return uow.Asteroids().Update(context.Background(), 1, map[string]any{"nonexistent": 1})
	})
	if err == nil {
		t.Fatal("unknown patch column accepted")
	}
}
