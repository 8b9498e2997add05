package storage

import (
	"time"

	"lead-router/internal/routing"
)

// Storage is the durable store behind the routing engine: routing
// configuration (rulesets, rules, groups, members, agents), contacts, and
// the append-only assignment history.
//
// Assignments are immutable once created. RecordAssignment is the single
// write path for them and is atomic with the rule match-count bump; see its
// documentation for the idempotency contract.
type Storage interface {
	// Connection management
	Connect(config StorageConfig) error
	Close() error
	Health() error

	// Operator accounts (dashboard/API login)
	CreateOperator(username, password string) (*Operator, error)
	GetOperatorByUsername(username string) (*Operator, error)
	ValidateOperator(username, password string) (*Operator, error)
	GetOperatorCount() (int, error)

	// Contacts
	CreateContact(c *routing.Contact) error
	GetContact(id string) (*routing.Contact, error)
	UpdateContactFields(id string, fields routing.Record) error
	ListContacts(limit, offset int) ([]*routing.Contact, int, error)
	// ListUnroutedContacts returns contacts with no assignment at all,
	// oldest first, for the auto-route poller and retroactive runs.
	ListUnroutedContacts(limit int) ([]*routing.Contact, error)
	DeleteContact(id string) error

	// Rulesets
	CreateRuleset(rs *routing.Ruleset) error
	GetRuleset(id string) (*routing.Ruleset, error)
	ListRulesets() ([]*routing.Ruleset, error)
	// ListActiveRulesets returns active rulesets whose trigger list contains
	// the given trigger (or is empty, meaning all triggers).
	ListActiveRulesets(trigger string) ([]*routing.Ruleset, error)
	UpdateRuleset(rs *routing.Ruleset) error
	DeleteRuleset(id string) error

	// Rules. CreateRule assigns priority max+1 within the ruleset when the
	// caller passes priority < 0, preserving insertion order as the
	// tie-break. ListRules returns rules ordered by priority ascending,
	// creation time ascending. UpdateRule never writes match_count.
	CreateRule(r *routing.Rule) error
	GetRule(id string) (*routing.Rule, error)
	ListRules(rulesetID string) ([]*routing.Rule, error)
	UpdateRule(r *routing.Rule) error
	DeleteRule(id string) error

	// Groups and membership. ListGroupMembers returns members in the order
	// they were added, with AgentStatus joined from the agents table.
	CreateGroup(g *routing.Group) error
	GetGroup(id string) (*routing.Group, error)
	ListGroups() ([]*routing.Group, error)
	UpdateGroup(g *routing.Group) error
	DeleteGroup(id string) error
	AddGroupMember(m *routing.GroupMember) error
	RemoveGroupMember(groupID, userID string) error
	ListGroupMembers(groupID string) ([]*routing.GroupMember, error)

	// Agents
	CreateAgent(a *routing.Agent) error
	GetAgent(id string) (*routing.Agent, error)
	ListAgents() ([]*routing.Agent, error)
	UpdateAgent(a *routing.Agent) error

	// Assignments.
	//
	// RecordAssignment inserts the assignment row and, when bumpMatchCount
	// is set and the assignment carries a rule ID, increments that rule's
	// match_count by exactly 1, both in one transaction, so no match-count
	// bump can exist without its assignment row or vice versa. For auto and
	// retroactive methods a unique index on contact_id rejects a second
	// automatic assignment; the violation surfaces as a conflict AppError
	// so the losing concurrent route reports "already routed".
	RecordAssignment(a *routing.Assignment, bumpMatchCount bool) error
	// GetAssignmentByContact returns the newest assignment for a contact,
	// or a not-found AppError.
	GetAssignmentByContact(contactID string) (*routing.Assignment, error)
	ListAssignments(limit, offset int) ([]*routing.Assignment, int, error)
	ListAssignmentsByGroup(groupID string, limit, offset int) ([]*routing.Assignment, int, error)
	// AssignmentCounts returns userID -> assignment count within the given
	// group only. Assignments in other groups are never included.
	AssignmentCounts(groupID string) (map[string]int, error)

	// GetStats returns routing statistics for dashboards.
	GetStats() (*Stats, error)
}

// StorageConfig abstracts backend-specific connection settings.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// Operator is a dashboard/API login account, distinct from routing agents.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stats summarizes routing activity.
type Stats struct {
	TotalContacts      int         `json:"total_contacts"`
	RoutedContacts     int         `json:"routed_contacts"`
	UnroutedContacts   int         `json:"unrouted_contacts"`
	TotalAssignments   int         `json:"total_assignments"`
	AssignmentsLast24h int         `json:"assignments_last_24h"`
	TopRules           []RuleStats `json:"top_rules"`
}

// RuleStats is a per-rule match summary.
type RuleStats struct {
	RuleID     string `json:"rule_id"`
	Name       string `json:"name"`
	MatchCount int    `json:"match_count"`
}

// StorageFactory creates a storage backend from its config.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}
