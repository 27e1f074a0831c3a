package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConflictPolicy selects what a bulk upsert does when a row collides on
// the entity's conflict key.
type ConflictPolicy string

const (
	// ConflictUpdate overwrites the existing row's data columns.
	ConflictUpdate ConflictPolicy = "update"
	// ConflictIgnore leaves the existing row untouched.
	ConflictIgnore ConflictPolicy = "ignore"
)

// upsertChunkSize bounds rows per multi-row INSERT so the placeholder
// count stays well under the backend limits.
const upsertChunkSize = 500

// BulkResult reports what a bulk upsert did.
type BulkResult struct {
	Created int
	Updated int
	Skipped int
}

// meta describes one entity to the generic repository: where it lives,
// which columns it has, and how to read and stamp a value.
type meta[T any] struct {
	table string
	// columns are the data columns in insert order, created_at and
	// updated_at last. id is always store-assigned.
	columns []string
	// conflict is the natural key for upserts.
	conflict []string
	// filterable marks the columns the filter grammar may reference.
	filterable map[string]bool

	// values extracts column values keyed by column name.
	values func(*T) map[string]any
	// conflictKey renders the natural key for in-batch deduplication.
	conflictKey func(*T) string
	// setID stores the backend-assigned identity.
	setID func(*T, int64)
	// stamp writes the row timestamps back onto the value.
	stamp func(*T, time.Time, time.Time)
	// validate enforces the entity invariants before any SQL runs.
	validate func(*T) error
}

// Repo is the shared repository implementation. A Repo is bound to the
// session of the UnitOfWork that constructed it; the zero binding fails
// every call with ErrNoSession.
type Repo[T any] struct {
	m *meta[T]
	s *session
}

func (r *Repo[T]) sess() (*session, error) {
	if r.s == nil || r.s.tx == nil {
		return nil, ErrNoSession
	}
	return r.s, nil
}

// Create inserts one row and stores the assigned id and timestamps back
// onto item.
func (r *Repo[T]) Create(ctx context.Context, item *T) error {
	s, err := r.sess()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	r.m.stamp(item, now, now)
	if err := r.m.validate(item); err != nil {
		return fmt.Errorf("%s: %w", r.m.table, err)
	}

	vals := r.m.values(item)
	args := make([]any, len(r.m.columns))
	for i, col := range r.m.columns {
		args[i] = normalizeValue(vals[col])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.m.table, strings.Join(r.m.columns, ", "), placeholders(len(r.m.columns)))

	if s.dialect == DialectPostgres {
		var id int64
		if err := s.tx.QueryRowxContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return fmt.Errorf("inserting into %s: %w", r.m.table, err)
		}
		r.m.setID(item, id)
		return nil
	}
	res, err := s.tx.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", r.m.table, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.m.setID(item, id)
	}
	return nil
}

// GetByID fetches one row, or ErrNotFound.
func (r *Repo[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	s, err := r.sess()
	if err != nil {
		return nil, err
	}
	var item T
	query := s.rebind(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", r.m.table))
	if err := s.tx.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s id %d: %w", r.m.table, id, err)
	}
	return &item, nil
}

// Update applies a column patch to one row. Unknown columns in the patch
// are rejected; a missing row is ErrNotFound.
func (r *Repo[T]) Update(ctx context.Context, id int64, patch map[string]any) error {
	s, err := r.sess()
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}

	cols := make([]string, 0, len(patch))
	for col := range patch {
		if col == "id" || !r.m.filterable[col] {
			return fmt.Errorf("cannot update column %q on %s", col, r.m.table)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, normalizeValue(patch[col]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC(), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", r.m.table, strings.Join(sets, ", "))
	res, err := s.tx.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating %s id %d: %w", r.m.table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one row, or ErrNotFound.
func (r *Repo[T]) Delete(ctx context.Context, id int64) error {
	s, err := r.sess()
	if err != nil {
		return err
	}
	query := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.m.table))
	res, err := s.tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting %s id %d: %w", r.m.table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAll pages through the table in id order.
func (r *Repo[T]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	return r.Filter(ctx, nil, skip, limit, "id", false)
}

// Count reports the table's row count.
func (r *Repo[T]) Count(ctx context.Context) (int64, error) {
	s, err := r.sess()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+r.m.table); err != nil {
		return 0, fmt.Errorf("counting %s: %w", r.m.table, err)
	}
	return n, nil
}

// Filter queries by the condition grammar. Unknown condition columns and
// unknown order columns are silently ignored (the order falls back to id).
func (r *Repo[T]) Filter(ctx context.Context, conditions map[string]any, skip, limit int, orderBy string, orderDesc bool) ([]T, error) {
	s, err := r.sess()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", r.m.table)
	where := buildWhere(conditions, r.m.filterable, s.dialect)
	if !where.empty() {
		b.WriteString(" WHERE ")
		b.WriteString(where.sql)
	}

	if orderBy == "" || !r.m.filterable[orderBy] {
		orderBy = "id"
	}
	fmt.Fprintf(&b, " ORDER BY %s", orderBy)
	if orderDesc {
		b.WriteString(" DESC")
	}

	args := where.args
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	if skip > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, skip)
	}

	var items []T
	if err := s.tx.SelectContext(ctx, &items, s.rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("filtering %s: %w", r.m.table, err)
	}
	return items, nil
}

// Search matches term as a case-insensitive substring across the given
// columns. Unknown columns are ignored; no usable column means no rows.
func (r *Repo[T]) Search(ctx context.Context, term string, fields []string, skip, limit int) ([]T, error) {
	s, err := r.sess()
	if err != nil {
		return nil, err
	}

	var parts []string
	var args []any
	for _, field := range fields {
		if !r.m.filterable[field] {
			continue
		}
		part, partArgs, _ := renderCondition(field, opILike, term, s.dialect)
		parts = append(parts, part)
		args = append(args, partArgs...)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE (%s) ORDER BY id", r.m.table, strings.Join(parts, " OR "))
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	if skip > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, skip)
	}

	var items []T
	if err := s.tx.SelectContext(ctx, &items, s.rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("searching %s: %w", r.m.table, err)
	}
	return items, nil
}

// BulkUpsert writes items keyed by the entity's conflict columns. Rows
// colliding within the batch are deduplicated keeping the last occurrence,
// then written chunk by chunk: Postgres as single multi-row INSERT ... ON
// CONFLICT statements, other backends as per-row lookup-update-insert.
func (r *Repo[T]) BulkUpsert(ctx context.Context, items []T, policy ConflictPolicy) (BulkResult, error) {
	s, err := r.sess()
	if err != nil {
		return BulkResult{}, err
	}
	if policy != ConflictUpdate && policy != ConflictIgnore {
		return BulkResult{}, fmt.Errorf("unknown conflict policy %q", policy)
	}
	if len(items) == 0 {
		return BulkResult{}, nil
	}

	now := s.now().UTC()
	deduped := make([]*T, 0, len(items))
	seen := make(map[string]int, len(items))
	for i := range items {
		item := &items[i]
		r.m.stamp(item, now, now)
		if err := r.m.validate(item); err != nil {
			return BulkResult{}, fmt.Errorf("%s: %w", r.m.table, err)
		}
		key := r.m.conflictKey(item)
		if at, dup := seen[key]; dup {
			deduped[at] = item
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, item)
	}

	var result BulkResult
	for start := 0; start < len(deduped); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(deduped))
		chunk := deduped[start:end]

		var chunkResult BulkResult
		var err error
		if s.dialect == DialectPostgres {
			chunkResult, err = r.upsertChunkPostgres(ctx, s, chunk, policy)
		} else {
			chunkResult, err = r.upsertChunkPerRow(ctx, s, chunk, policy)
		}
		if err != nil {
			return BulkResult{}, err
		}
		result.Created += chunkResult.Created
		result.Updated += chunkResult.Updated
		result.Skipped += chunkResult.Skipped
	}
	return result, nil
}

// upsertChunkPostgres issues one INSERT ... ON CONFLICT for the chunk.
// The created/updated split comes from RETURNING (xmax = 0), true for
// freshly inserted rows.
func (r *Repo[T]) upsertChunkPostgres(ctx context.Context, s *session, chunk []*T, policy ConflictPolicy) (BulkResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", r.m.table, strings.Join(r.m.columns, ", "))

	args := make([]any, 0, len(chunk)*len(r.m.columns))
	row := "(" + placeholders(len(r.m.columns)) + ")"
	for i, item := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		vals := r.m.values(item)
		for _, col := range r.m.columns {
			args = append(args, normalizeValue(vals[col]))
		}
	}

	conflict := strings.Join(r.m.conflict, ", ")
	if policy == ConflictIgnore {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING RETURNING id", conflict)
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s RETURNING id, (xmax = 0) AS inserted",
			conflict, r.updateSetClause())
	}

	rows, err := s.tx.QueryContext(ctx, s.rebind(b.String()), args...)
	if err != nil {
		return BulkResult{}, fmt.Errorf("bulk upserting %s: %w", r.m.table, err)
	}
	defer rows.Close()

	var result BulkResult
	for rows.Next() {
		var id int64
		if policy == ConflictIgnore {
			if err := rows.Scan(&id); err != nil {
				return BulkResult{}, fmt.Errorf("scanning upsert result: %w", err)
			}
			result.Created++
			continue
		}
		var inserted bool
		if err := rows.Scan(&id, &inserted); err != nil {
			return BulkResult{}, fmt.Errorf("scanning upsert result: %w", err)
		}
		if inserted {
			result.Created++
		} else {
			result.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return BulkResult{}, fmt.Errorf("bulk upserting %s: %w", r.m.table, err)
	}
	if policy == ConflictIgnore {
		result.Skipped = len(chunk) - result.Created
	}
	return result, nil
}

// updateSetClause assigns every data column from EXCLUDED except the
// conflict key and created_at, which the existing row keeps.
func (r *Repo[T]) updateSetClause() string {
	skip := map[string]bool{"created_at": true}
	for _, col := range r.m.conflict {
		skip[col] = true
	}
	var sets []string
	for _, col := range r.m.columns {
		if skip[col] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return strings.Join(sets, ", ")
}

// upsertChunkPerRow is the portable path: look each row up by its
// conflict key, then update or insert.
func (r *Repo[T]) upsertChunkPerRow(ctx context.Context, s *session, chunk []*T, policy ConflictPolicy) (BulkResult, error) {
	var result BulkResult
	lookup := fmt.Sprintf("SELECT id FROM %s WHERE %s", r.m.table, conflictWhere(r.m.conflict))

	for _, item := range chunk {
		vals := r.m.values(item)
		keyArgs := make([]any, len(r.m.conflict))
		for i, col := range r.m.conflict {
			keyArgs[i] = normalizeValue(vals[col])
		}

		var id int64
		err := s.tx.GetContext(ctx, &id, s.rebind(lookup), keyArgs...)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := r.insertRow(ctx, s, item, vals); err != nil {
				return BulkResult{}, err
			}
			result.Created++
		case err != nil:
			return BulkResult{}, fmt.Errorf("resolving %s conflict key: %w", r.m.table, err)
		case policy == ConflictIgnore:
			result.Skipped++
		default:
			if err := r.updateRow(ctx, s, id, vals); err != nil {
				return BulkResult{}, err
			}
			r.m.setID(item, id)
			result.Updated++
		}
	}
	return result, nil
}

func (r *Repo[T]) insertRow(ctx context.Context, s *session, item *T, vals map[string]any) error {
	args := make([]any, len(r.m.columns))
	for i, col := range r.m.columns {
		args[i] = normalizeValue(vals[col])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.m.table, strings.Join(r.m.columns, ", "), placeholders(len(r.m.columns)))
	res, err := s.tx.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", r.m.table, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.m.setID(item, id)
	}
	return nil
}

func (r *Repo[T]) updateRow(ctx context.Context, s *session, id int64, vals map[string]any) error {
	skip := map[string]bool{"created_at": true}
	for _, col := range r.m.conflict {
		skip[col] = true
	}
	var sets []string
	var args []any
	for _, col := range r.m.columns {
		if skip[col] {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, normalizeValue(vals[col]))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", r.m.table, strings.Join(sets, ", "))
	if _, err := s.tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("updating %s id %d: %w", r.m.table, id, err)
	}
	return nil
}

func conflictWhere(conflict []string) string {
	parts := make([]string, len(conflict))
	for i, col := range conflict {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND ")
}

// BulkDelete removes every row matching the conditions and reports the
// count. An empty or fully-ignored condition set is refused; full-table
// deletes must be spelled out with an explicit always-true condition.
func (r *Repo[T]) BulkDelete(ctx context.Context, conditions map[string]any) (int64, error) {
	s, err := r.sess()
	if err != nil {
		return 0, err
	}
	where := buildWhere(conditions, r.m.filterable, s.dialect)
	if where.empty() {
		return 0, fmt.Errorf("bulk delete on %s requires at least one condition", r.m.table)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", r.m.table, where.sql)
	res, err := s.tx.ExecContext(ctx, s.rebind(query), where.args...)
	if err != nil {
		return 0, fmt.Errorf("bulk deleting from %s: %w", r.m.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk deleting from %s: %w", r.m.table, err)
	}
	return n, nil
}

// FindByFields fetches the first row matching all field equalities in id
// order, or ErrNotFound.
func (r *Repo[T]) FindByFields(ctx context.Context, fields map[string]any) (*T, error) {
	items, err := r.Filter(ctx, fields, 0, 1, "id", false)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}
