package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
	"lead-router/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := adapter.createDefaultOperator(); err != nil {
		return nil, fmt.Errorf("failed to create default operator: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Connect(config storage.StorageConfig) error {
	sqliteConfig, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for SQLite storage")
	}

	newAdapter, err := NewAdapter(sqliteConfig)
	if err != nil {
		return err
	}

	if a.db != nil {
		a.db.Close()
	}

	a.db = newAdapter.db
	a.config = newAdapter.config

	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS operators (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_default BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			object_type TEXT NOT NULL DEFAULT 'Contact',
			fields TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT 'api',
			external_id TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rulesets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			is_active BOOLEAN DEFAULT 1,
			triggers TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			ruleset_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN DEFAULT 1,
			object_type TEXT NOT NULL DEFAULT 'Both',
			conditions TEXT NOT NULL DEFAULT '[]',
			condition_logic TEXT NOT NULL DEFAULT 'AND',
			expression TEXT NOT NULL DEFAULT '',
			catch_all BOOLEAN DEFAULT 0,
			match_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (ruleset_id) REFERENCES rulesets (id)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			distribution_mode TEXT NOT NULL DEFAULT 'equal',
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			weight INTEGER NOT NULL DEFAULT 1,
			added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES groups (id),
			FOREIGN KEY (user_id) REFERENCES agents (id)
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			method TEXT NOT NULL,
			rule_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (contact_id) REFERENCES contacts (id)
		)`,

		// One automatic assignment per contact: the durable backstop for
		// the idempotency guard. Manual corrections stay possible.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_auto_contact
			ON assignments(contact_id) WHERE method IN ('auto', 'retroactive')`,

		`CREATE INDEX IF NOT EXISTS idx_rules_ruleset_priority ON rules(ruleset_id, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_contact ON assignments(contact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_group_user ON assignments(group_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_created ON assignments(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_created ON contacts(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (a *Adapter) createDefaultOperator() error {
	var count int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM operators").Scan(&count); err != nil {
		return err
	}

	if count == 0 {
		// Default operator "admin"/"admin", flagged so the UI can force a
		// credential change.
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash default password: %w", err)
		}

		_, err = a.db.Exec(`INSERT INTO operators (id, username, password_hash, is_default) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), "admin", string(hashedPassword), true)
		if err != nil {
			return fmt.Errorf("failed to create default operator: %w", err)
		}
	}

	return nil
}

// Operator methods

func (a *Adapter) CreateOperator(username, password string) (*storage.Operator, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	op := &storage.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err = a.db.Exec(`INSERT INTO operators (id, username, password_hash, is_default, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		op.ID, op.Username, op.PasswordHash, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.ConflictError("username already taken")
		}
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}

	return op, nil
}

func (a *Adapter) GetOperatorByUsername(username string) (*storage.Operator, error) {
	op := &storage.Operator{}
	err := a.db.QueryRow(`SELECT id, username, password_hash, is_default, created_at, updated_at FROM operators WHERE username = ?`, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsDefault, &op.CreatedAt, &op.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("operator")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

func (a *Adapter) ValidateOperator(username, password string) (*storage.Operator, error) {
	op, err := a.GetOperatorByUsername(username)
	if err != nil {
		return nil, apperrors.AuthError("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.AuthError("invalid credentials")
	}
	return op, nil
}

func (a *Adapter) GetOperatorCount() (int, error) {
	var count int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM operators").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operators: %w", err)
	}
	return count, nil
}

// Contact methods

func (a *Adapter) CreateContact(c *routing.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ObjectType == "" {
		c.ObjectType = routing.ObjectContact
	}
	if c.Source == "" {
		c.Source = "api"
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal contact fields: %w", err)
	}

	_, err = a.db.Exec(`INSERT INTO contacts (id, object_type, fields, source, external_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ObjectType, string(fields), c.Source, c.ExternalID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("contact already exists")
		}
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func (a *Adapter) GetContact(id string) (*routing.Contact, error) {
	return a.scanContact(a.db.QueryRow(
		`SELECT id, object_type, fields, source, external_id, created_at, updated_at FROM contacts WHERE id = ?`, id))
}

func (a *Adapter) scanContact(row *sql.Row) (*routing.Contact, error) {
	c := &routing.Contact{}
	var fields string
	err := row.Scan(&c.ID, &c.ObjectType, &fields, &c.Source, &c.ExternalID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("contact")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact fields: %w", err)
	}
	return c, nil
}

func (a *Adapter) UpdateContactFields(id string, fields routing.Record) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal contact fields: %w", err)
	}

	result, err := a.db.Exec(`UPDATE contacts SET fields = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("contact")
	}
	return nil
}

func (a *Adapter) ListContacts(limit, offset int) ([]*routing.Contact, int, error) {
	var total int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM contacts").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count contacts: %w", err)
	}

	rows, err := a.db.Query(
		`SELECT id, object_type, fields, source, external_id, created_at, updated_at FROM contacts ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

func (a *Adapter) ListUnroutedContacts(limit int) ([]*routing.Contact, error) {
	rows, err := a.db.Query(
		`SELECT c.id, c.object_type, c.fields, c.source, c.external_id, c.created_at, c.updated_at
		 FROM contacts c
		 LEFT JOIN assignments a ON a.contact_id = c.id
		 WHERE a.id IS NULL
		 ORDER BY c.created_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrouted contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func collectContacts(rows *sql.Rows) ([]*routing.Contact, error) {
	var contacts []*routing.Contact
	for rows.Next() {
		c := &routing.Contact{}
		var fields string
		if err := rows.Scan(&c.ID, &c.ObjectType, &fields, &c.Source, &c.ExternalID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact fields: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (a *Adapter) DeleteContact(id string) error {
	result, err := a.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("contact")
	}
	return nil
}

// Ruleset methods

func (a *Adapter) CreateRuleset(rs *routing.Ruleset) error {
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	triggers, err := json.Marshal(rs.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}

	_, err = a.db.Exec(`INSERT INTO rulesets (id, name, is_active, triggers, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rs.ID, rs.Name, rs.IsActive, string(triggers), rs.CreatedAt, rs.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("ruleset name already taken")
		}
		return fmt.Errorf("failed to create ruleset: %w", err)
	}
	return nil
}

func (a *Adapter) GetRuleset(id string) (*routing.Ruleset, error) {
	rs := &routing.Ruleset{}
	var triggers string
	err := a.db.QueryRow(`SELECT id, name, is_active, triggers, created_at, updated_at FROM rulesets WHERE id = ?`, id).
		Scan(&rs.ID, &rs.Name, &rs.IsActive, &triggers, &rs.CreatedAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("ruleset")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ruleset: %w", err)
	}
	if err := json.Unmarshal([]byte(triggers), &rs.Triggers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggers: %w", err)
	}
	return rs, nil
}

func (a *Adapter) ListRulesets() ([]*routing.Ruleset, error) {
	rows, err := a.db.Query(`SELECT id, name, is_active, triggers, created_at, updated_at FROM rulesets ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rulesets: %w", err)
	}
	defer rows.Close()

	return collectRulesets(rows, "")
}

func (a *Adapter) ListActiveRulesets(trigger string) ([]*routing.Ruleset, error) {
	rows, err := a.db.Query(`SELECT id, name, is_active, triggers, created_at, updated_at FROM rulesets WHERE is_active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rulesets: %w", err)
	}
	defer rows.Close()

	return collectRulesets(rows, trigger)
}

// collectRulesets scans ruleset rows, keeping only those whose trigger list
// contains the given trigger when one is supplied. An empty trigger list on
// a ruleset means it applies to every trigger.
func collectRulesets(rows *sql.Rows, trigger string) ([]*routing.Ruleset, error) {
	var rulesets []*routing.Ruleset
	for rows.Next() {
		rs := &routing.Ruleset{}
		var triggers string
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.IsActive, &triggers, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ruleset: %w", err)
		}
		if err := json.Unmarshal([]byte(triggers), &rs.Triggers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal triggers: %w", err)
		}
		if trigger != "" && len(rs.Triggers) > 0 && !containsString(rs.Triggers, trigger) {
			continue
		}
		rulesets = append(rulesets, rs)
	}
	return rulesets, rows.Err()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (a *Adapter) UpdateRuleset(rs *routing.Ruleset) error {
	triggers, err := json.Marshal(rs.Triggers)
	if err != nil {
		return fmt.Errorf("failed to marshal triggers: %w", err)
	}
	rs.UpdatedAt = time.Now().UTC()

	result, err := a.db.Exec(`UPDATE rulesets SET name = ?, is_active = ?, triggers = ?, updated_at = ? WHERE id = ?`,
		rs.Name, rs.IsActive, string(triggers), rs.UpdatedAt, rs.ID)
	if err != nil {
		return fmt.Errorf("failed to update ruleset: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("ruleset")
	}
	return nil
}

func (a *Adapter) DeleteRuleset(id string) error {
	if _, err := a.db.Exec(`DELETE FROM rules WHERE ruleset_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete ruleset rules: %w", err)
	}
	result, err := a.db.Exec(`DELETE FROM rulesets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ruleset: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("ruleset")
	}
	return nil
}

// Rule methods

func (a *Adapter) CreateRule(r *routing.Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ObjectType == "" {
		r.ObjectType = routing.ObjectBoth
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	// Priority is always re-derived as max+1 on insert unless the operator
	// pinned one explicitly, keeping the total order stable under gaps.
	if r.Priority < 0 {
		var next int
		err := a.db.QueryRow(`SELECT COALESCE(MAX(priority) + 1, 0) FROM rules WHERE ruleset_id = ?`, r.RulesetID).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to derive rule priority: %w", err)
		}
		r.Priority = next
	}

	conditions, err := json.Marshal(r.Conditions.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	logic := strings.ToUpper(r.Conditions.ConditionLogic)
	if logic == "" {
		logic = "AND"
	}

	_, err = a.db.Exec(`INSERT INTO rules (id, ruleset_id, group_id, name, priority, is_active, object_type, conditions, condition_logic, expression, catch_all, match_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		r.ID, r.RulesetID, r.GroupID, r.Name, r.Priority, r.IsActive, r.ObjectType,
		string(conditions), logic, r.Expression, r.CatchAll, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	r.Conditions.ConditionLogic = logic
	r.MatchCount = 0
	return nil
}

const ruleColumns = `id, ruleset_id, group_id, name, priority, is_active, object_type, conditions, condition_logic, expression, catch_all, match_count, created_at, updated_at`

func (a *Adapter) GetRule(id string) (*routing.Rule, error) {
	row := a.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("rule")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*routing.Rule, error) {
	r := &routing.Rule{}
	var conditions, logic string
	err := row.Scan(&r.ID, &r.RulesetID, &r.GroupID, &r.Name, &r.Priority, &r.IsActive, &r.ObjectType,
		&conditions, &logic, &r.Expression, &r.CatchAll, &r.MatchCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditions), &r.Conditions.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	r.Conditions.ConditionLogic = logic
	return r, nil
}

func (a *Adapter) ListRules(rulesetID string) ([]*routing.Rule, error) {
	rows, err := a.db.Query(`SELECT `+ruleColumns+` FROM rules WHERE ruleset_id = ? ORDER BY priority ASC, created_at ASC, id ASC`, rulesetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*routing.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (a *Adapter) UpdateRule(r *routing.Rule) error {
	conditions, err := json.Marshal(r.Conditions.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	logic := strings.ToUpper(r.Conditions.ConditionLogic)
	if logic == "" {
		logic = "AND"
	}
	r.UpdatedAt = time.Now().UTC()

	// match_count is deliberately absent: only RecordAssignment writes it.
	result, err := a.db.Exec(`UPDATE rules SET group_id = ?, name = ?, priority = ?, is_active = ?, object_type = ?, conditions = ?, condition_logic = ?, expression = ?, catch_all = ?, updated_at = ? WHERE id = ?`,
		r.GroupID, r.Name, r.Priority, r.IsActive, r.ObjectType, string(conditions), logic, r.Expression, r.CatchAll, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("rule")
	}
	return nil
}

func (a *Adapter) DeleteRule(id string) error {
	result, err := a.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("rule")
	}
	return nil
}

// Group methods

func (a *Adapter) CreateGroup(g *routing.Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.DistributionMode == "" {
		g.DistributionMode = routing.DistributionEqual
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now

	_, err := a.db.Exec(`INSERT INTO groups (id, name, distribution_mode, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.DistributionMode, g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("group name already taken")
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

func (a *Adapter) GetGroup(id string) (*routing.Group, error) {
	g := &routing.Group{}
	err := a.db.QueryRow(`SELECT id, name, distribution_mode, is_active, created_at, updated_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.DistributionMode, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("group")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (a *Adapter) ListGroups() ([]*routing.Group, error) {
	rows, err := a.db.Query(`SELECT id, name, distribution_mode, is_active, created_at, updated_at FROM groups ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*routing.Group
	for rows.Next() {
		g := &routing.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.DistributionMode, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (a *Adapter) UpdateGroup(g *routing.Group) error {
	g.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(`UPDATE groups SET name = ?, distribution_mode = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		g.Name, g.DistributionMode, g.IsActive, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("group")
	}
	return nil
}

func (a *Adapter) DeleteGroup(id string) error {
	if _, err := a.db.Exec(`DELETE FROM group_members WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	result, err := a.db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("group")
	}
	return nil
}

func (a *Adapter) AddGroupMember(m *routing.GroupMember) error {
	if m.Weight < 1 {
		m.Weight = 1
	}
	m.AddedAt = time.Now().UTC()

	_, err := a.db.Exec(`INSERT INTO group_members (group_id, user_id, weight, added_at) VALUES (?, ?, ?, ?)`,
		m.GroupID, m.UserID, m.Weight, m.AddedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("agent already in group")
		}
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

func (a *Adapter) RemoveGroupMember(groupID, userID string) error {
	result, err := a.db.Exec(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("group member")
	}
	return nil
}

func (a *Adapter) ListGroupMembers(groupID string) ([]*routing.GroupMember, error) {
	rows, err := a.db.Query(
		`SELECT m.group_id, m.user_id, m.weight, m.added_at, ag.status
		 FROM group_members m
		 JOIN agents ag ON ag.id = m.user_id
		 WHERE m.group_id = ?
		 ORDER BY m.added_at ASC, m.user_id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []*routing.GroupMember
	for rows.Next() {
		m := &routing.GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Weight, &m.AddedAt, &m.AgentStatus); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Agent methods

func (a *Adapter) CreateAgent(ag *routing.Agent) error {
	if ag.ID == "" {
		ag.ID = uuid.NewString()
	}
	if ag.Status == "" {
		ag.Status = routing.AgentActive
	}
	now := time.Now().UTC()
	ag.CreatedAt = now
	ag.UpdatedAt = now

	_, err := a.db.Exec(`INSERT INTO agents (id, name, email, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ag.ID, ag.Name, ag.Email, ag.Status, ag.CreatedAt, ag.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (a *Adapter) GetAgent(id string) (*routing.Agent, error) {
	ag := &routing.Agent{}
	err := a.db.QueryRow(`SELECT id, name, email, status, created_at, updated_at FROM agents WHERE id = ?`, id).
		Scan(&ag.ID, &ag.Name, &ag.Email, &ag.Status, &ag.CreatedAt, &ag.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("agent")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return ag, nil
}

func (a *Adapter) ListAgents() ([]*routing.Agent, error) {
	rows, err := a.db.Query(`SELECT id, name, email, status, created_at, updated_at FROM agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*routing.Agent
	for rows.Next() {
		ag := &routing.Agent{}
		if err := rows.Scan(&ag.ID, &ag.Name, &ag.Email, &ag.Status, &ag.CreatedAt, &ag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, ag)
	}
	return agents, rows.Err()
}

func (a *Adapter) UpdateAgent(ag *routing.Agent) error {
	ag.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(`UPDATE agents SET name = ?, email = ?, status = ?, updated_at = ? WHERE id = ?`,
		ag.Name, ag.Email, ag.Status, ag.UpdatedAt, ag.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFoundError("agent")
	}
	return nil
}

// Assignment methods

func (a *Adapter) RecordAssignment(assignment *routing.Assignment, bumpMatchCount bool) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.CreatedAt = time.Now().UTC()

	metadata, err := json.Marshal(assignment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment metadata: %w", err)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO assignments (id, contact_id, user_id, group_id, method, rule_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		assignment.ID, assignment.ContactID, assignment.UserID, assignment.GroupID,
		assignment.Method, assignment.RuleID, string(metadata), assignment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("contact already routed").WithContext("contact_id", assignment.ContactID)
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	if bumpMatchCount && assignment.RuleID != nil {
		if _, err := tx.Exec(`UPDATE rules SET match_count = match_count + 1 WHERE id = ?`, *assignment.RuleID); err != nil {
			return fmt.Errorf("failed to bump rule match count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignment: %w", err)
	}
	return nil
}

const assignmentColumns = `id, contact_id, user_id, group_id, method, rule_id, metadata, created_at`

func (a *Adapter) GetAssignmentByContact(contactID string) (*routing.Assignment, error) {
	row := a.db.QueryRow(`SELECT `+assignmentColumns+` FROM assignments WHERE contact_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, contactID)
	asg, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("assignment")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return asg, nil
}

func scanAssignment(row rowScanner) (*routing.Assignment, error) {
	asg := &routing.Assignment{}
	var metadata string
	err := row.Scan(&asg.ID, &asg.ContactID, &asg.UserID, &asg.GroupID, &asg.Method, &asg.RuleID, &metadata, &asg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &asg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignment metadata: %w", err)
	}
	return asg, nil
}

func (a *Adapter) ListAssignments(limit, offset int) ([]*routing.Assignment, int, error) {
	var total int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM assignments").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	rows, err := a.db.Query(`SELECT `+assignmentColumns+` FROM assignments ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments, err := collectAssignments(rows)
	if err != nil {
		return nil, 0, err
	}
	return assignments, total, nil
}

func (a *Adapter) ListAssignmentsByGroup(groupID string, limit, offset int) ([]*routing.Assignment, int, error) {
	var total int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM assignments WHERE group_id = ?", groupID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	rows, err := a.db.Query(`SELECT `+assignmentColumns+` FROM assignments WHERE group_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, groupID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments, err := collectAssignments(rows)
	if err != nil {
		return nil, 0, err
	}
	return assignments, total, nil
}

func collectAssignments(rows *sql.Rows) ([]*routing.Assignment, error) {
	var assignments []*routing.Assignment
	for rows.Next() {
		asg, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, asg)
	}
	return assignments, rows.Err()
}

func (a *Adapter) AssignmentCounts(groupID string) (map[string]int, error) {
	rows, err := a.db.Query(`SELECT user_id, COUNT(*) FROM assignments WHERE group_id = ? GROUP BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

func (a *Adapter) GetStats() (*storage.Stats, error) {
	stats := &storage.Stats{}

	if err := a.db.QueryRow("SELECT COUNT(*) FROM contacts").Scan(&stats.TotalContacts); err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	if err := a.db.QueryRow("SELECT COUNT(DISTINCT contact_id) FROM assignments").Scan(&stats.RoutedContacts); err != nil {
		return nil, fmt.Errorf("failed to count routed contacts: %w", err)
	}
	stats.UnroutedContacts = stats.TotalContacts - stats.RoutedContacts

	if err := a.db.QueryRow("SELECT COUNT(*) FROM assignments").Scan(&stats.TotalAssignments); err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := a.db.QueryRow("SELECT COUNT(*) FROM assignments WHERE created_at >= ?", since).Scan(&stats.AssignmentsLast24h); err != nil {
		return nil, fmt.Errorf("failed to count recent assignments: %w", err)
	}

	rows, err := a.db.Query(`SELECT id, name, match_count FROM rules WHERE match_count > 0 ORDER BY match_count DESC, name ASC LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rs storage.RuleStats
		if err := rows.Scan(&rs.RuleID, &rs.Name, &rs.MatchCount); err != nil {
			return nil, fmt.Errorf("failed to scan rule stats: %w", err)
		}
		stats.TopRules = append(stats.TopRules, rs)
	}
	return stats, rows.Err()
}

// isUniqueViolation detects SQLite unique-constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
