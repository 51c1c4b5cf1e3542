/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements vaccination.Store and stock.TxStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  stock.Store:        vaccines, scopes, lots, reservations, transfers
  stock.TxStore:      WithTx over a single *sql.Tx
  vaccination.Store:  children, appointments, completions, requests,
                      calendar bucket entries

OPTIMISTIC LOCKING:
  lots and transfers carry a version column. Updates are issued as
    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
  and zero affected rows on an existing id is ErrConcurrentModification.

INVARIANTS IN THE SCHEMA:
  lots has CHECK constraints for non-negative counters and
    original_quantity = remaining_quantity + held_quantity + distributed_quantity
  so a buggy writer fails at the database as well as in the ledger.

KEY TABLES:
  lots:                   stock lots, FEFO index on (vaccine, scope, expiry, sequence)
  reservations:           per-appointment holds
  transfers:              transfer workflow rows (allocations as JSON)
  scheduled_vaccinations: open appointments
  completed_vaccinations: administered doses
  vaccine_requests:       parent requests
  timeline_buckets:       due / late / overdue calendar entries

CONCURRENCY:
  The pool is limited to one connection, so transactions are serialized
  and ":memory:" databases are shared by every call. Reads inside WithTx
  go through the transaction, never the pool.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/vaccines.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - vaccination/store.go: Schedule and request persistence
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vaccines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		required_dose_count INTEGER NOT NULL CHECK (required_dose_count > 0),
		gender_restriction TEXT NOT NULL DEFAULT 'none'
	);

	CREATE TABLE IF NOT EXISTS scopes (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		parent_kind TEXT,
		parent_id TEXT,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (kind, id)
	);

	-- Lots: the quantity invariant is enforced here as well as in the ledger
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		vaccine_id TEXT NOT NULL REFERENCES vaccines(id),
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		original_quantity INTEGER NOT NULL,
		remaining_quantity INTEGER NOT NULL CHECK (remaining_quantity >= 0),
		held_quantity INTEGER NOT NULL CHECK (held_quantity >= 0),
		distributed_quantity INTEGER NOT NULL CHECK (distributed_quantity >= 0),
		expiration_date TEXT NOT NULL,
		source_lot_id TEXT,
		derived_count INTEGER NOT NULL DEFAULT 0,
		stored_status TEXT NOT NULL DEFAULT 'valid',
		sequence INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (original_quantity = remaining_quantity + held_quantity + distributed_quantity)
	);

	-- FEFO hot path
	CREATE INDEX IF NOT EXISTS idx_lots_fefo
		ON lots(vaccine_id, scope_kind, scope_id, expiration_date, sequence);
	CREATE INDEX IF NOT EXISTS idx_lots_source
		ON lots(source_lot_id) WHERE source_lot_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_appointment
		ON reservations(appointment_id);

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		vaccine_id TEXT NOT NULL,
		from_kind TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_kind TEXT NOT NULL,
		to_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		status TEXT NOT NULL DEFAULT 'pending',
		allocations_json TEXT NOT NULL,
		derived_lots_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_by TEXT,
		confirmed_at TEXT,
		confirmed_by TEXT,
		cancelled_at TEXT,
		cancelled_by TEXT,
		reason TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_status
		ON transfers(status);

	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		gender TEXT NOT NULL,
		birth_date TEXT,
		health_center_kind TEXT NOT NULL,
		health_center_id TEXT NOT NULL,
		next_appointment_id TEXT,
		next_vaccine_id TEXT,
		next_date TEXT
	);

	CREATE TABLE IF NOT EXISTS scheduled_vaccinations (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		vaccine_id TEXT NOT NULL,
		calendar_id TEXT,
		scheduled_for TEXT NOT NULL,
		dose INTEGER NOT NULL,
		planner_id TEXT,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_child_vaccine
		ON scheduled_vaccinations(child_id, vaccine_id, scheduled_for);

	CREATE TABLE IF NOT EXISTS completed_vaccinations (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		vaccine_id TEXT NOT NULL,
		calendar_id TEXT,
		dose INTEGER NOT NULL,
		appointment_id TEXT,
		administered_at TEXT NOT NULL,
		administered_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_completed_child_vaccine
		ON completed_vaccinations(child_id, vaccine_id);

	CREATE TABLE IF NOT EXISTS vaccine_requests (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL REFERENCES children(id),
		vaccine_id TEXT NOT NULL,
		calendar_id TEXT,
		dose INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		appointment_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_child
		ON vaccine_requests(child_id, vaccine_id);
	CREATE INDEX IF NOT EXISTS idx_requests_appointment
		ON vaccine_requests(appointment_id) WHERE appointment_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS timeline_buckets (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL CHECK (kind IN ('due', 'late', 'overdue')),
		child_id TEXT NOT NULL,
		vaccine_id TEXT NOT NULL,
		calendar_id TEXT,
		dose INTEGER NOT NULL,
		date TEXT,
		reference TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_child_vaccine
		ON timeline_buckets(child_id, vaccine_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// resetTables lists tables children first so foreign keys hold while
// deleting.
var resetTables = []string{
	"reservations",
	"timeline_buckets",
	"vaccine_requests",
	"completed_vaccinations",
	"scheduled_vaccinations",
	"children",
	"transfers",
	"lots",
	"scopes",
	"vaccines",
}

// Reset deletes all data (for testing/demos). The schema is kept.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx stock.Store) error {
		c := tx.(*conn)
		for _, table := range resetTables {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs every query against q. Store embeds one over the pool;
// WithTx hands out one over the transaction.
type conn struct {
	q querier
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (c *conn) SaveVaccine(ctx context.Context, v stock.Vaccine) error {
	if err := v.Validate(); err != nil {
		return err
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO vaccines (id, name, required_dose_count, gender_restriction)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			required_dose_count = excluded.required_dose_count,
			gender_restriction = excluded.gender_restriction
	`, v.ID, v.Name, v.RequiredDoseCount, v.GenderRestriction)
	if err != nil {
		return fmt.Errorf("failed to save vaccine: %w", err)
	}
	return nil
}

func (c *conn) GetVaccine(ctx context.Context, id stock.VaccineID) (*stock.Vaccine, error) {
	var v stock.Vaccine
	err := c.q.QueryRowContext(ctx,
		"SELECT id, name, required_dose_count, gender_restriction FROM vaccines WHERE id = ?", id,
	).Scan(&v.ID, &v.Name, &v.RequiredDoseCount, &v.GenderRestriction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vaccine %s: %w", id, stock.ErrVaccineNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vaccine: %w", err)
	}
	return &v, nil
}

func (c *conn) ListVaccines(ctx context.Context) ([]stock.Vaccine, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT id, name, required_dose_count, gender_restriction FROM vaccines ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query vaccines: %w", err)
	}
	defer rows.Close()

	var result []stock.Vaccine
	for rows.Next() {
		var v stock.Vaccine
		if err := rows.Scan(&v.ID, &v.Name, &v.RequiredDoseCount, &v.GenderRestriction); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (c *conn) SaveScope(ctx context.Context, node stock.ScopeNode) error {
	if err := node.Scope.Validate(); err != nil {
		return err
	}
	var parentKind, parentID sql.NullString
	if node.Parent != nil {
		parentKind = nullString(string(node.Parent.Kind))
		parentID = nullString(node.Parent.ID)
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO scopes (kind, id, parent_kind, parent_id, name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			parent_kind = excluded.parent_kind,
			parent_id = excluded.parent_id,
			name = excluded.name
	`, node.Scope.Kind, node.Scope.ID, parentKind, parentID, node.Name)
	if err != nil {
		return fmt.Errorf("failed to save scope: %w", err)
	}
	return nil
}

func (c *conn) GetScope(ctx context.Context, scope stock.Scope) (*stock.ScopeNode, error) {
	var (
		node                 = stock.ScopeNode{Scope: scope}
		parentKind, parentID sql.NullString
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT parent_kind, parent_id, name FROM scopes WHERE kind = ? AND id = ?", scope.Kind, scope.ID,
	).Scan(&parentKind, &parentID, &node.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scope %s: %w", scope, stock.ErrScopeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	if parentKind.Valid {
		p := stock.NewScope(stock.ScopeKind(parentKind.String), parentID.String)
		node.Parent = &p
	}
	return &node, nil
}

// =============================================================================
// LOTS
// =============================================================================

const lotColumns = `id, vaccine_id, scope_kind, scope_id, original_quantity, remaining_quantity,
	held_quantity, distributed_quantity, expiration_date, source_lot_id, derived_count,
	stored_status, sequence, version, created_at, updated_at`

func (c *conn) InsertLot(ctx context.Context, lot *stock.Lot) error {
	var seq int64
	if err := c.q.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) + 1 FROM lots").Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate lot sequence: %w", err)
	}
	status := lot.StoredStatus
	if status == "" {
		status = stock.LotValid
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		lot.ID, lot.VaccineID, lot.Scope.Kind, lot.Scope.ID,
		lot.OriginalQuantity, lot.RemainingQuantity, lot.HeldQuantity, lot.DistributedQuantity,
		formatDate(lot.ExpirationDate), nullString(string(lot.SourceLotID)), lot.DerivedCount,
		status, seq, formatTime(lot.CreatedAt), formatTime(lot.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("lot %s already exists", lot.ID)
		}
		if isCheckConstraintError(err) {
			return fmt.Errorf("lot %s: %w", lot.ID, stock.ErrInvariantViolation)
		}
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	lot.Sequence = seq
	lot.StoredStatus = status
	lot.Version = 1
	return nil
}

func (c *conn) GetLot(ctx context.Context, id stock.LotID) (*stock.Lot, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+lotColumns+" FROM lots WHERE id = ?", id)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lot %s: %w", id, stock.ErrLotNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// ListLots returns lots in FEFO order.
func (c *conn) ListLots(ctx context.Context, filter stock.LotFilter) ([]stock.Lot, error) {
	var (
		where []string
		args  []any
	)
	if filter.VaccineID != "" {
		where = append(where, "vaccine_id = ?")
		args = append(args, filter.VaccineID)
	}
	if filter.Scope != nil {
		where = append(where, "scope_kind = ? AND scope_id = ?")
		args = append(args, filter.Scope.Kind, filter.Scope.ID)
	}

	query := "SELECT " + lotColumns + " FROM lots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY expiration_date ASC, sequence ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var result []stock.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, lot)
	}
	return result, rows.Err()
}

func (c *conn) UpdateLot(ctx context.Context, lot *stock.Lot) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE lots SET
			original_quantity = ?, remaining_quantity = ?, held_quantity = ?,
			distributed_quantity = ?, expiration_date = ?, derived_count = ?,
			stored_status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		lot.OriginalQuantity, lot.RemainingQuantity, lot.HeldQuantity, lot.DistributedQuantity,
		formatDate(lot.ExpirationDate), lot.DerivedCount, lot.StoredStatus, formatTime(lot.UpdatedAt),
		lot.ID, lot.Version,
	)
	if err != nil {
		if isCheckConstraintError(err) {
			return fmt.Errorf("lot %s: %w", lot.ID, stock.ErrInvariantViolation)
		}
		return fmt.Errorf("failed to update lot: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "lots", string(lot.ID), lot.Version, stock.ErrLotNotFound); err != nil {
		return err
	}
	lot.Version++
	return nil
}

func (c *conn) DeleteLot(ctx context.Context, id stock.LotID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM lots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete lot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lot %s: %w", id, stock.ErrLotNotFound)
	}
	return nil
}

// checkVersioned turns a zero-row versioned UPDATE into not-found or a
// concurrent modification.
func (c *conn) checkVersioned(ctx context.Context, res sql.Result, table, id string, version int64, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current int64
	err = c.q.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, notFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s version %d, have %d: %w",
		strings.TrimSuffix(table, "s"), id, current, version, stock.ErrConcurrentModification)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLot(row scanner) (stock.Lot, error) {
	var (
		lot                  stock.Lot
		expiration           string
		sourceLotID          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&lot.ID, &lot.VaccineID, &lot.Scope.Kind, &lot.Scope.ID,
		&lot.OriginalQuantity, &lot.RemainingQuantity, &lot.HeldQuantity, &lot.DistributedQuantity,
		&expiration, &sourceLotID, &lot.DerivedCount, &lot.StoredStatus,
		&lot.Sequence, &lot.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lot, err
		}
		return lot, fmt.Errorf("failed to scan lot: %w", err)
	}
	lot.ExpirationDate = parseDate(expiration)
	lot.SourceLotID = stock.LotID(sourceLotID.String)
	lot.CreatedAt = parseTime(createdAt)
	lot.UpdatedAt = parseTime(updatedAt)
	return lot, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (c *conn) InsertReservations(ctx context.Context, rs []stock.Reservation) error {
	for _, r := range rs {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO reservations (id, appointment_id, lot_id, quantity, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, r.ID, r.AppointmentID, r.LotID, r.Quantity, formatTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
	}
	return nil
}

func (c *conn) ListReservations(ctx context.Context, id stock.AppointmentID) ([]stock.Reservation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, appointment_id, lot_id, quantity, created_at
		FROM reservations WHERE appointment_id = ?
		ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var result []stock.Reservation
	for rows.Next() {
		var (
			r         stock.Reservation
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.LotID, &r.Quantity, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (c *conn) DeleteReservations(ctx context.Context, id stock.AppointmentID) (int, error) {
	res, err := c.q.ExecContext(ctx, "DELETE FROM reservations WHERE appointment_id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reservations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// TRANSFERS
// =============================================================================

const transferColumns = `id, vaccine_id, from_kind, from_id, to_kind, to_id, quantity, status,
	allocations_json, derived_lots_json, created_at, created_by, confirmed_at, confirmed_by,
	cancelled_at, cancelled_by, reason, version`

func (c *conn) InsertTransfer(ctx context.Context, t *stock.Transfer) error {
	allocations, derived, err := marshalTransfer(t)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		t.ID, t.VaccineID, t.From.Kind, t.From.ID, t.To.Kind, t.To.ID, t.Quantity, t.Status,
		allocations, derived, formatTime(t.CreatedAt), nullString(t.CreatedBy),
		nullTime(t.ConfirmedAt), nullString(t.ConfirmedBy),
		nullTime(t.CancelledAt), nullString(t.CancelledBy), nullString(t.Reason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transfer %s already exists", t.ID)
		}
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	t.Version = 1
	return nil
}

func (c *conn) GetTransfer(ctx context.Context, id stock.TransferID) (*stock.Transfer, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = ?", id)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, stock.ErrTransferNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *conn) UpdateTransfer(ctx context.Context, t *stock.Transfer) error {
	allocations, derived, err := marshalTransfer(t)
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE transfers SET
			status = ?, allocations_json = ?, derived_lots_json = ?,
			confirmed_at = ?, confirmed_by = ?, cancelled_at = ?, cancelled_by = ?,
			reason = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		t.Status, allocations, derived,
		nullTime(t.ConfirmedAt), nullString(t.ConfirmedBy),
		nullTime(t.CancelledAt), nullString(t.CancelledBy), nullString(t.Reason),
		t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "transfers", string(t.ID), t.Version, stock.ErrTransferNotFound); err != nil {
		return err
	}
	t.Version++
	return nil
}

func (c *conn) ListTransfers(ctx context.Context, filter stock.TransferFilter) ([]stock.Transfer, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Scope != nil {
		where = append(where, "((from_kind = ? AND from_id = ?) OR (to_kind = ? AND to_id = ?))")
		args = append(args, filter.Scope.Kind, filter.Scope.ID, filter.Scope.Kind, filter.Scope.ID)
	}

	query := "SELECT " + transferColumns + " FROM transfers"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var result []stock.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func marshalTransfer(t *stock.Transfer) (string, string, error) {
	allocations, err := json.Marshal(nonNil(t.SourceAllocations))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode transfer allocations: %w", err)
	}
	derived, err := json.Marshal(nonNil(t.DerivedLots))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode derived lots: %w", err)
	}
	return string(allocations), string(derived), nil
}

func scanTransfer(row scanner) (stock.Transfer, error) {
	var (
		t                        stock.Transfer
		allocations, derived     string
		createdAt                string
		createdBy, confirmedBy   sql.NullString
		cancelledBy, reason      sql.NullString
		confirmedAt, cancelledAt sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.VaccineID, &t.From.Kind, &t.From.ID, &t.To.Kind, &t.To.ID, &t.Quantity, &t.Status,
		&allocations, &derived, &createdAt, &createdBy, &confirmedAt, &confirmedBy,
		&cancelledAt, &cancelledBy, &reason, &t.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan transfer: %w", err)
	}
	if err := json.Unmarshal([]byte(allocations), &t.SourceAllocations); err != nil {
		return t, fmt.Errorf("transfer %s: bad allocations: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(derived), &t.DerivedLots); err != nil {
		return t, fmt.Errorf("transfer %s: bad derived lots: %w", t.ID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.CreatedBy = createdBy.String
	t.ConfirmedAt = parseNullTime(confirmedAt)
	t.ConfirmedBy = confirmedBy.String
	t.CancelledAt = parseNullTime(cancelledAt)
	t.CancelledBy = cancelledBy.String
	t.Reason = reason.String
	return t, nil
}

// =============================================================================
// CHILDREN
// =============================================================================

func (c *conn) SaveChild(ctx context.Context, ch vaccination.Child) error {
	if ch.ID == "" {
		return fmt.Errorf("child id is required")
	}
	if err := ch.HealthCenter.Validate(); err != nil {
		return fmt.Errorf("child %s: %w", ch.ID, err)
	}
	nextID, nextVaccine, nextDate := nextColumns(ch.NextAppointment)
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO children (id, name, gender, birth_date, health_center_kind, health_center_id,
			next_appointment_id, next_vaccine_id, next_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			gender = excluded.gender,
			birth_date = excluded.birth_date,
			health_center_kind = excluded.health_center_kind,
			health_center_id = excluded.health_center_id,
			next_appointment_id = excluded.next_appointment_id,
			next_vaccine_id = excluded.next_vaccine_id,
			next_date = excluded.next_date
	`, ch.ID, ch.Name, ch.Gender, nullDate(ch.BirthDate), ch.HealthCenter.Kind, ch.HealthCenter.ID,
		nextID, nextVaccine, nextDate)
	if err != nil {
		return fmt.Errorf("failed to save child: %w", err)
	}
	return nil
}

func (c *conn) GetChild(ctx context.Context, id vaccination.ChildID) (*vaccination.Child, error) {
	var (
		ch                            vaccination.Child
		birthDate                     sql.NullString
		nextID, nextVaccine, nextDate sql.NullString
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, name, gender, birth_date, health_center_kind, health_center_id,
			next_appointment_id, next_vaccine_id, next_date
		FROM children WHERE id = ?
	`, id).Scan(&ch.ID, &ch.Name, &ch.Gender, &birthDate, &ch.HealthCenter.Kind, &ch.HealthCenter.ID,
		&nextID, &nextVaccine, &nextDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("child %s: %w", id, vaccination.ErrChildNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	ch.BirthDate = parseDate(birthDate.String)
	if nextID.Valid {
		ch.NextAppointment = &vaccination.NextAppointment{
			AppointmentID: stock.AppointmentID(nextID.String),
			VaccineID:     stock.VaccineID(nextVaccine.String),
			Date:          parseDate(nextDate.String),
		}
	}
	return &ch, nil
}

func (c *conn) SetNextAppointment(ctx context.Context, id vaccination.ChildID, next *vaccination.NextAppointment) error {
	nextID, nextVaccine, nextDate := nextColumns(next)
	res, err := c.q.ExecContext(ctx, `
		UPDATE children SET next_appointment_id = ?, next_vaccine_id = ?, next_date = ?
		WHERE id = ?
	`, nextID, nextVaccine, nextDate, id)
	if err != nil {
		return fmt.Errorf("failed to set next appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("child %s: %w", id, vaccination.ErrChildNotFound)
	}
	return nil
}

func nextColumns(next *vaccination.NextAppointment) (sql.NullString, sql.NullString, sql.NullString) {
	if next == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullString{}
	}
	return nullString(string(next.AppointmentID)), nullString(string(next.VaccineID)), nullDate(next.Date)
}

// =============================================================================
// SCHEDULED VACCINATIONS
// =============================================================================

const scheduledColumns = `id, child_id, vaccine_id, calendar_id, scheduled_for, dose, planner_id,
	scope_kind, scope_id, created_at, updated_at`

func (c *conn) InsertScheduled(ctx context.Context, s *vaccination.ScheduledVaccination) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO scheduled_vaccinations (`+scheduledColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.ChildID, s.VaccineID, nullString(string(s.CalendarID)), formatDate(s.ScheduledFor),
		s.Dose, nullString(s.PlannerID), s.Scope.Kind, s.Scope.ID,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("appointment %s already exists", s.ID)
		}
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (c *conn) GetScheduled(ctx context.Context, id stock.AppointmentID) (*vaccination.ScheduledVaccination, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+scheduledColumns+" FROM scheduled_vaccinations WHERE id = ?", id)
	s, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, vaccination.ErrAppointmentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *conn) UpdateScheduled(ctx context.Context, s *vaccination.ScheduledVaccination) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE scheduled_vaccinations SET
			calendar_id = ?, scheduled_for = ?, dose = ?, planner_id = ?,
			scope_kind = ?, scope_id = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(string(s.CalendarID)), formatDate(s.ScheduledFor), s.Dose, nullString(s.PlannerID),
		s.Scope.Kind, s.Scope.ID, formatTime(s.UpdatedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("appointment %s: %w", s.ID, vaccination.ErrAppointmentNotFound)
	}
	return nil
}

func (c *conn) DeleteScheduled(ctx context.Context, id stock.AppointmentID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM scheduled_vaccinations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("appointment %s: %w", id, vaccination.ErrAppointmentNotFound)
	}
	return nil
}

func (c *conn) ListScheduled(ctx context.Context, filter vaccination.ScheduleFilter) ([]vaccination.ScheduledVaccination, error) {
	var (
		where []string
		args  []any
	)
	if filter.ChildID != "" {
		where = append(where, "child_id = ?")
		args = append(args, filter.ChildID)
	}
	if filter.VaccineID != "" {
		where = append(where, "vaccine_id = ?")
		args = append(args, filter.VaccineID)
	}

	query := "SELECT " + scheduledColumns + " FROM scheduled_vaccinations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_for ASC, created_at ASC, id ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var result []vaccination.ScheduledVaccination
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanScheduled(row scanner) (vaccination.ScheduledVaccination, error) {
	var (
		s                    vaccination.ScheduledVaccination
		calendarID, planner  sql.NullString
		scheduledFor         string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&s.ID, &s.ChildID, &s.VaccineID, &calendarID, &scheduledFor, &s.Dose, &planner,
		&s.Scope.Kind, &s.Scope.ID, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("failed to scan appointment: %w", err)
	}
	s.CalendarID = vaccination.CalendarID(calendarID.String)
	s.PlannerID = planner.String
	s.ScheduledFor = parseDate(scheduledFor)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

// =============================================================================
// COMPLETED VACCINATIONS
// =============================================================================

func (c *conn) InsertCompleted(ctx context.Context, cv *vaccination.CompletedVaccination) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO completed_vaccinations
			(id, child_id, vaccine_id, calendar_id, dose, appointment_id, administered_at, administered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cv.ID, cv.ChildID, cv.VaccineID, nullString(string(cv.CalendarID)), cv.Dose,
		nullString(string(cv.AppointmentID)), formatTime(cv.AdministeredAt), nullString(cv.AdministeredBy),
	)
	if err != nil {
		return fmt.Errorf("failed to insert completed vaccination: %w", err)
	}
	return nil
}

func (c *conn) ListCompleted(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.CompletedVaccination, error) {
	query := `
		SELECT id, child_id, vaccine_id, calendar_id, dose, appointment_id, administered_at, administered_by
		FROM completed_vaccinations WHERE child_id = ?`
	args := []any{childID}
	if vaccineID != "" {
		query += " AND vaccine_id = ?"
		args = append(args, vaccineID)
	}
	query += " ORDER BY dose ASC, rowid ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed vaccinations: %w", err)
	}
	defer rows.Close()

	var result []vaccination.CompletedVaccination
	for rows.Next() {
		var (
			cv                                vaccination.CompletedVaccination
			calendarID, appointmentID, byWhom sql.NullString
			administeredAt                    string
		)
		if err := rows.Scan(&cv.ID, &cv.ChildID, &cv.VaccineID, &calendarID, &cv.Dose,
			&appointmentID, &administeredAt, &byWhom); err != nil {
			return nil, err
		}
		cv.CalendarID = vaccination.CalendarID(calendarID.String)
		cv.AppointmentID = stock.AppointmentID(appointmentID.String)
		cv.AdministeredAt = parseTime(administeredAt)
		cv.AdministeredBy = byWhom.String
		result = append(result, cv)
	}
	return result, rows.Err()
}

// =============================================================================
// VACCINE REQUESTS
// =============================================================================

const requestColumns = `id, child_id, vaccine_id, calendar_id, dose, status, appointment_id, created_at, updated_at`

func (c *conn) InsertRequest(ctx context.Context, r *vaccination.VaccineRequest) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO vaccine_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ChildID, r.VaccineID, nullString(string(r.CalendarID)), r.Dose, r.Status,
		nullString(string(r.AppointmentID)), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists", r.ID)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (c *conn) GetRequest(ctx context.Context, id vaccination.RequestID) (*vaccination.VaccineRequest, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM vaccine_requests WHERE id = ?", id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, vaccination.ErrRequestNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *conn) UpdateRequest(ctx context.Context, r *vaccination.VaccineRequest) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE vaccine_requests SET
			calendar_id = ?, dose = ?, status = ?, appointment_id = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(string(r.CalendarID)), r.Dose, r.Status, nullString(string(r.AppointmentID)),
		formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s: %w", r.ID, vaccination.ErrRequestNotFound)
	}
	return nil
}

func (c *conn) ListRequests(ctx context.Context, filter vaccination.RequestFilter) ([]vaccination.VaccineRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.ChildID != "" {
		where = append(where, "child_id = ?")
		args = append(args, filter.ChildID)
	}
	if filter.VaccineID != "" {
		where = append(where, "vaccine_id = ?")
		args = append(args, filter.VaccineID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AppointmentID != "" {
		where = append(where, "appointment_id = ?")
		args = append(args, filter.AppointmentID)
	}

	query := "SELECT " + requestColumns + " FROM vaccine_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var result []vaccination.VaccineRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRequest(row scanner) (vaccination.VaccineRequest, error) {
	var (
		r                         vaccination.VaccineRequest
		calendarID, appointmentID sql.NullString
		createdAt, updatedAt      string
	)
	err := row.Scan(&r.ID, &r.ChildID, &r.VaccineID, &calendarID, &r.Dose, &r.Status,
		&appointmentID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan request: %w", err)
	}
	r.CalendarID = vaccination.CalendarID(calendarID.String)
	r.AppointmentID = stock.AppointmentID(appointmentID.String)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// TIMELINE BUCKETS
// =============================================================================

func (c *conn) SaveBucketEntry(ctx context.Context, e vaccination.TimelineEntry) error {
	if !e.Kind.IsBucket() {
		return fmt.Errorf("timeline kind %q is not a calendar bucket", e.Kind)
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO timeline_buckets (kind, child_id, vaccine_id, calendar_id, dose, date, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Kind, e.ChildID, e.VaccineID, nullString(string(e.CalendarID)), e.Dose, nullDate(e.Date), nullString(e.Reference))
	if err != nil {
		return fmt.Errorf("failed to save timeline entry: %w", err)
	}
	return nil
}

func (c *conn) ListBucketEntries(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID) ([]vaccination.TimelineEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT kind, child_id, vaccine_id, calendar_id, dose, date, reference
		FROM timeline_buckets WHERE child_id = ? AND vaccine_id = ?
		ORDER BY date ASC, seq ASC
	`, childID, vaccineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline entries: %w", err)
	}
	defer rows.Close()

	var result []vaccination.TimelineEntry
	for rows.Next() {
		var (
			e                           vaccination.TimelineEntry
			calendarID, date, reference sql.NullString
		)
		if err := rows.Scan(&e.Kind, &e.ChildID, &e.VaccineID, &calendarID, &e.Dose, &date, &reference); err != nil {
			return nil, err
		}
		e.CalendarID = vaccination.CalendarID(calendarID.String)
		e.Date = parseDate(date.String)
		e.Reference = reference.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func (c *conn) DeleteBucketEntries(ctx context.Context, childID vaccination.ChildID, vaccineID stock.VaccineID, calendarID vaccination.CalendarID, dose int) (int, error) {
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM timeline_buckets
		WHERE child_id = ? AND vaccine_id = ? AND COALESCE(calendar_id, '') = ? AND dose = ?
	`, childID, vaccineID, calendarID, dose)
	if err != nil {
		return 0, fmt.Errorf("failed to delete timeline entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*t))
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(d stock.Date) string { return d.String() }

func nullDate(d stock.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func parseDate(s string) stock.Date {
	if s == "" {
		return stock.Date{}
	}
	d, _ := stock.ParseDate(s)
	return d
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isCheckConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

var (
	_ stock.TxStore     = (*Store)(nil)
	_ vaccination.Store = (*Store)(nil)
	_ vaccination.Store = (*conn)(nil)
)
