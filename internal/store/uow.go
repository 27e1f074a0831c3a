package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/astro"
)

// UnitOfWork is one transactional scope over the catalog. It owns the
// transaction and lends out repositories bound to it; the repositories
// become unusable once the unit of work ends. Not safe for concurrent
// use; one unit of work belongs to one task.
type UnitOfWork struct {
	db    *DB
	s     *session
	repos map[string]any
	done  bool
}

// Begin opens a unit of work with a fresh transaction.
func (d *DB) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := d.pool.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &UnitOfWork{
		db:    d,
		s:     &session{tx: tx, dialect: d.dialect, logger: d.logger, now: d.now},
		repos: make(map[string]any),
	}, nil
}

// Session exposes the underlying transaction for the rare query that the
// repositories do not cover.
func (u *UnitOfWork) Session() *sqlx.Tx { return u.s.tx }

// Asteroids returns the asteroid repository bound to this unit of work.
func (u *UnitOfWork) Asteroids() *AsteroidRepo {
	return getRepository(u, "asteroids", func() *AsteroidRepo {
		return &AsteroidRepo{&Repo[astro.Asteroid]{m: asteroidMeta(), s: u.s}}
	})
}

// Approaches returns the close-approach repository bound to this unit of
// work.
func (u *UnitOfWork) Approaches() *ApproachRepo {
	return getRepository(u, "close_approaches", func() *ApproachRepo {
		return &ApproachRepo{&Repo[astro.CloseApproach]{m: approachMeta(), s: u.s}}
	})
}

// Threats returns the threat-assessment repository bound to this unit of
// work.
func (u *UnitOfWork) Threats() *ThreatRepo {
	return getRepository(u, "threat_assessments", func() *ThreatRepo {
		return &ThreatRepo{&Repo[astro.ThreatAssessment]{m: threatMeta(), s: u.s}}
	})
}

// getRepository caches one repository instance per type for the lifetime
// of the unit of work.
func getRepository[R any](u *UnitOfWork, key string, build func() R) R {
	if cached, ok := u.repos[key]; ok {
		return cached.(R)
	}
	repo := build()
	u.repos[key] = repo
	return repo
}

// Commit ends the unit of work, making its writes durable.
func (u *UnitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	defer u.detach()
	if err := u.s.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback ends the unit of work, discarding its writes. Safe to call
// after Commit; it then does nothing.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	defer u.detach()
	if err := u.s.tx.Rollback(); err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Close rolls back if the unit of work is still open. Deferring Close
// right after Begin guarantees release on every exit path.
func (u *UnitOfWork) Close() {
	if !u.done {
		if err := u.Rollback(); err != nil {
			u.db.logger.Warn("rollback on close failed", zap.Error(err))
		}
	}
}

// detach invalidates the lent-out repositories so late calls fail with
// ErrNoSession instead of hitting a finished transaction.
func (u *UnitOfWork) detach() {
	u.s.tx = nil
	u.repos = make(map[string]any)
}

// RunInUnitOfWork runs fn inside one unit of work: commit on nil error,
// rollback on error or panic.
func RunInUnitOfWork(ctx context.Context, db *DB, fn func(uow *UnitOfWork) error) error {
	uow, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close()

	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return uow.Commit()
}
