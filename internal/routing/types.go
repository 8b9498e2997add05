// Package routing implements the rule-matching and round-robin assignment
// engine that distributes incoming leads and contacts across agent groups.
//
// The engine is built from five cooperating pieces:
//
//  1. Condition evaluation: a single predicate (field, operator, value)
//     tested against a record's field map. Pure, total, never panics.
//  2. Rule matching: first-match-wins over rules pre-sorted by priority.
//  3. Fairness selection: least-loaded-next over a group's active members,
//     recomputed from durable assignment history on every call.
//  4. Assignment recording: the append-only audit fact, written atomically
//     with the rule's match counter.
//  5. Orchestration: the routeContact state machine tying it all together.
//
// The engine is field-name-agnostic: a Record is an opaque map from field
// name to value and the engine never interprets CRM semantics beyond the
// operators an operator configured.
package routing

import (
	"time"
)

// Record is the field map of the lead or contact being routed. Values come
// from JSON decoding or a CRM payload: string, float64, bool or nil.
type Record map[string]interface{}

// Operator is the closed set of comparison operators supported by
// operator-defined conditions.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpIsBlank     Operator = "isBlank"
	OpIsPresent   Operator = "isPresent"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
)

// ObjectType narrows which record kinds a rule applies to.
type ObjectType string

const (
	ObjectLead    ObjectType = "Lead"
	ObjectContact ObjectType = "Contact"
	ObjectBoth    ObjectType = "Both"
)

// DistributionMode selects how a group's members share incoming assignments.
type DistributionMode string

const (
	// DistributionEqual treats every member weight as 1.
	DistributionEqual DistributionMode = "equal"
	// DistributionWeighted divides historical load by the member weight.
	DistributionWeighted DistributionMode = "weighted"
)

// Method records how an assignment came to exist.
type Method string

const (
	MethodManual      Method = "manual"
	MethodAuto        Method = "auto"
	MethodRetroactive Method = "retroactive"
)

// AgentStatus gates assignment eligibility. Only active agents receive work.
type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
)

// Condition is a single predicate over one record field. Immutable once part
// of a persisted rule.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// ConditionSet is the wire format for operator-built rules: an ordered list
// of conditions plus an AND/OR combinator. An empty condition list never
// matches unless the owning rule is an explicit catch-all.
type ConditionSet struct {
	Conditions     []Condition `json:"conditions"`
	ConditionLogic string      `json:"conditionLogic"` // "AND" or "OR"
}

// Rule is a priority-ordered predicate routing matched records to a group.
//
// Either Conditions or Expression carries the predicate: Expression holds the
// free-text SOQL-like dialect used for CRM-sourced rules and takes precedence
// when non-empty. Priority defines a total order within a ruleset; ties break
// by creation order and are never reordered implicitly. MatchCount is bumped
// exclusively by the assignment recorder and never decremented.
type Rule struct {
	ID         string       `json:"id"`
	RulesetID  string       `json:"ruleset_id"`
	GroupID    string       `json:"group_id"`
	Name       string       `json:"name"`
	Priority   int          `json:"priority"`
	IsActive   bool         `json:"is_active"`
	ObjectType ObjectType   `json:"object_type"`
	Conditions ConditionSet `json:"conditions"`
	Expression string       `json:"expression,omitempty"`
	// CatchAll marks operator intent that an empty condition list matches
	// everything. Without it an empty rule never matches.
	CatchAll   bool      `json:"catch_all"`
	MatchCount int       `json:"match_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ruleset is a named, ordered collection of rules with triggers controlling
// when it is considered at all.
type Ruleset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Triggers  []string  `json:"triggers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerContactCreated is the ruleset trigger fired when a contact enters
// the system via API, form submission or CRM sync.
const TriggerContactCreated = "contact_created"

// Group is a pool of eligible agents with a distribution mode.
type Group struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	DistributionMode DistributionMode `json:"distribution_mode"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// GroupMember links an agent into a group with a distribution weight.
// Weight is ignored (treated as 1) under equal distribution. AgentStatus is
// denormalized from the agents table when members are loaded so the selector
// can filter eligibility without a second lookup.
type GroupMember struct {
	GroupID     string      `json:"group_id"`
	UserID      string      `json:"user_id"`
	Weight      int         `json:"weight"`
	AgentStatus AgentStatus `json:"agent_status,omitempty"`
	AddedAt     time.Time   `json:"added_at"`
}

// Agent is a human assignee. An agent may belong to multiple groups; load is
// tracked independently per group.
type Agent struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Status    AgentStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Contact is the routable record as stored locally. Fields is the opaque map
// the engine evaluates. Source distinguishes API-created contacts from
// externally-synced CRM leads; for the latter ExternalID carries the remote
// record ID and the orchestrator refreshes Fields from the CRM before
// matching.
type Contact struct {
	ID         string     `json:"id"`
	ObjectType ObjectType `json:"object_type"`
	Fields     Record     `json:"fields"`
	Source     string     `json:"source"` // "api" or "crm"
	ExternalID string     `json:"external_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MatchedCondition is the audit capture of one condition that participated
// in a match: the configured predicate plus the actual field value on the
// record at match time. The actual value is first-class so an operator
// reviewing history later sees what the field held even if the contact
// changed afterwards.
type MatchedCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Expected string      `json:"expected"`
	Actual   interface{} `json:"actual"`
}

// AssignmentMetadata is the auditable blob stored alongside each assignment.
type AssignmentMetadata struct {
	RuleName          string             `json:"rule_name,omitempty"`
	RulesetID         string             `json:"ruleset_id,omitempty"`
	MatchedConditions []MatchedCondition `json:"matched_conditions,omitempty"`
	Note              string             `json:"note,omitempty"`
}

// Assignment is the immutable, append-only fact recording who got which
// contact, via which rule and method. Corrections are modeled as new
// assignments, never updates.
type Assignment struct {
	ID        string             `json:"id"`
	ContactID string             `json:"contact_id"`
	UserID    string             `json:"user_id"`
	GroupID   string             `json:"group_id"`
	Method    Method             `json:"method"`
	RuleID    *string            `json:"rule_id,omitempty"`
	Metadata  AssignmentMetadata `json:"metadata"`
	CreatedAt time.Time          `json:"created_at"`
}

// Match is the outcome of rule matching: the winning rule plus the audit
// capture of the conditions that made it win.
type Match struct {
	Rule       *Rule
	Conditions []MatchedCondition
}

// RouteResult is what the orchestrator hands back to callers. Routing
// failures resolve to Routed=false with a reason rather than an error so
// contact creation never fails because routing failed.
type RouteResult struct {
	ContactID  string      `json:"contact_id"`
	Routed     bool        `json:"routed"`
	Reason     string      `json:"reason,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Terminal reasons reported by the orchestrator.
const (
	ReasonNoMatchingRule  = "no matching rule"
	ReasonNoActiveMembers = "no active members"
	ReasonAlreadyRouted   = "already routed"
	ReasonTimeout         = "timeout"
)
