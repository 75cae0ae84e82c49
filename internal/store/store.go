package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// Store manages the console's persistent state backed by SQLite. It persists
// requesters, API key credentials, admin accounts, policies, the audit trail,
// and denormalized access request history.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "chronocrypt.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Requester CRUD
// ---------------------------------------------------------------------------

// requesterRow maps 1:1 to the requesters table. Metadata is stored as a
// JSON document in metadata_json.
type requesterRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Enabled      bool      `db:"enabled"`
	MetadataJSON string    `db:"metadata_json"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func requesterRowFromModel(r *model.Requester) (requesterRow, error) {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return requesterRow{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return requesterRow{
		ID:           r.ID,
		Name:         r.Name,
		Enabled:      r.Enabled,
		MetadataJSON: string(metaJSON),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (r requesterRow) toModel() (model.Requester, error) {
	var meta map[string]string
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
			return model.Requester{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return model.Requester{
		ID:        r.ID,
		Name:      r.Name,
		Enabled:   r.Enabled,
		Metadata:  meta,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// CreateRequester inserts a new requester. The CreatedAt and UpdatedAt fields
// are populated after a successful insert; ID must already be set.
func (s *Store) CreateRequester(ctx context.Context, r *model.Requester) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	row, err := requesterRowFromModel(r)
	if err != nil {
		return err
	}

	const q = `INSERT INTO requesters (id, name, enabled, metadata_json, created_at, updated_at)
		VALUES (:id, :name, :enabled, :metadata_json, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert requester: %w", err)
	}
	return nil
}

// GetRequester returns a requester by ID.
func (s *Store) GetRequester(ctx context.Context, id string) (*model.Requester, error) {
	var row requesterRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM requesters WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get requester: %w", err)
	}
	r, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRequesters returns all requesters ordered by name.
func (s *Store) ListRequesters(ctx context.Context) ([]model.Requester, error) {
	var rows []requesterRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM requesters ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list requesters: %w", err)
	}

	requesters := make([]model.Requester, 0, len(rows))
	for _, row := range rows {
		r, err := row.toModel()
		if err != nil {
			return nil, err
		}
		requesters = append(requesters, r)
	}
	return requesters, nil
}

// UpdateRequester updates an existing requester. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdateRequester(ctx context.Context, r *model.Requester) error {
	r.UpdatedAt = time.Now().UTC()

	row, err := requesterRowFromModel(r)
	if err != nil {
		return err
	}

	const q = `UPDATE requesters SET
		name = :name, enabled = :enabled, metadata_json = :metadata_json, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update requester: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update requester rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRequester removes a requester by ID. Owned API keys are cascade
// deleted by the foreign key constraint; audit rows are untouched.
func (s *Store) DeleteRequester(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM requesters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete requester: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete requester rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API key credentials
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. secret_hash must already be set;
// the plaintext secret never reaches the store. The ID and CreatedAt fields
// are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(key_id, secret_hash, requester_id, label, enabled, expires_at, created_at)
		VALUES
		(:key_id, :secret_hash, :requester_id, :label, :enabled, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByKeyID looks up a credential by its public key identifier.
func (s *Store) GetAPIKeyByKeyID(ctx context.Context, keyID string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_id = ?", keyID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListAPIKeysByRequester returns all API keys owned by a requester.
func (s *Store) ListAPIKeysByRequester(ctx context.Context, requesterID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE requester_id = ? ORDER BY created_at DESC", requesterID); err != nil {
		return nil, fmt.Errorf("list api keys by requester: %w", err)
	}
	return keys, nil
}

// SetAPIKeyEnabled enables or disables a credential by its key identifier.
// Revocation is a disable; the row is kept for listing and audit context.
func (s *Store) SetAPIKeyEnabled(ctx context.Context, keyID string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET enabled = ? WHERE key_id = ?", enabled, keyID)
	if err != nil {
		return fmt.Errorf("set api key enabled: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key enabled rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for a credential.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used = ? WHERE key_id = ?", now, keyID)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin CRUD
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins (email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdmin returns an admin by ID.
func (s *Store) GetAdmin(ctx context.Context, id int64) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists. Used for
// first-run detection to gate the initial setup flow.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Policy CRUD
// ---------------------------------------------------------------------------

// CreatePolicy inserts a new policy. The ID, CreatedAt, and UpdatedAt fields
// are populated after a successful insert.
func (s *Store) CreatePolicy(ctx context.Context, p *model.Policy) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	const q = `INSERT INTO policies (name, description, priority, enabled, built_in, rule_json, created_at, updated_at)
		VALUES (:name, :description, :priority, :enabled, :built_in, :rule_json, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get policy id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPolicy returns a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id int64) (*model.Policy, error) {
	var p model.Policy
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM policies WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &p, nil
}

// GetPolicyByName returns a policy by its unique name.
func (s *Store) GetPolicyByName(ctx context.Context, name string) (*model.Policy, error) {
	var p model.Policy
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM policies WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy by name: %w", err)
	}
	return &p, nil
}

// ListPolicies returns all policies ordered by priority, then name.
func (s *Store) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	var policies []model.Policy
	if err := s.db.SelectContext(ctx, &policies, "SELECT * FROM policies ORDER BY priority, name"); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// UpdatePolicy updates an existing policy. The UpdatedAt field is refreshed
// automatically.
func (s *Store) UpdatePolicy(ctx context.Context, p *model.Policy) error {
	p.UpdatedAt = time.Now().UTC()

	const q = `UPDATE policies SET
		name = :name, description = :description, priority = :priority,
		enabled = :enabled, rule_json = :rule_json, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePolicy removes a policy by ID. Built-in policies are protected and
// return ErrProtected.
func (s *Store) DeletePolicy(ctx context.Context, id int64) error {
	p, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if p.BuiltIn {
		return ErrProtected
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Access request history (denormalized, best-effort)
// ---------------------------------------------------------------------------

// CreateAccessRequest inserts a denormalized history row for a submitted
// request and its outcome. Callers treat failures as non-fatal.
func (s *Store) CreateAccessRequest(ctx context.Context, rec *model.AccessRequestRecord) error {
	rec.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO access_requests
		(id, requester_id, range_start, range_end, purpose, granted, denial_reason, key_count, created_at)
		VALUES
		(:id, :requester_id, :range_start, :range_end, :purpose, :granted, :denial_reason, :key_count, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

// ListAccessRequests returns history rows, newest first. Pass empty
// requesterID for all requesters.
func (s *Store) ListAccessRequests(ctx context.Context, requesterID string, limit int) ([]model.AccessRequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	recs := make([]model.AccessRequestRecord, 0, limit)
	var err error
	if requesterID == "" {
		err = s.db.SelectContext(ctx, &recs,
			"SELECT * FROM access_requests ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		err = s.db.SelectContext(ctx, &recs,
			"SELECT * FROM access_requests WHERE requester_id = ? ORDER BY created_at DESC LIMIT ?", requesterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	return recs, nil
}
