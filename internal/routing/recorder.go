package routing

import (
	"fmt"

	apperrors "lead-router/internal/common/errors"
)

// Store is the persistence surface the routing engine needs. The full storage
// interface satisfies it.
type Store interface {
	GetContact(id string) (*Contact, error)
	UpdateContactFields(id string, fields Record) error
	ListUnroutedContacts(limit int) ([]*Contact, error)
	ListActiveRulesets(trigger string) ([]*Ruleset, error)
	ListRules(rulesetID string) ([]*Rule, error)
	GetGroup(id string) (*Group, error)
	ListGroupMembers(groupID string) ([]*GroupMember, error)
	AssignmentCounts(groupID string) (map[string]int, error)
	GetAssignmentByContact(contactID string) (*Assignment, error)
	RecordAssignment(a *Assignment, bumpMatchCount bool) error
}

// Recorder turns a match plus a selected member into the durable assignment
// fact. The insert and the rule's match-counter bump commit atomically in the
// store; a uniqueness conflict on the contact surfaces as ErrAlreadyRouted so
// concurrent route attempts collapse to one winner.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists an automatic (or retroactive) assignment. Metadata captures
// the winning rule and the conditions that matched, with the actual field
// values at match time.
func (r *Recorder) Record(contactID string, match *Match, member *GroupMember, method Method) (*Assignment, error) {
	rule := match.Rule
	ruleID := rule.ID

	assignment := &Assignment{
		ContactID: contactID,
		UserID:    member.UserID,
		GroupID:   member.GroupID,
		Method:    method,
		RuleID:    &ruleID,
		Metadata: AssignmentMetadata{
			RuleName:          rule.Name,
			RulesetID:         rule.RulesetID,
			MatchedConditions: match.Conditions,
		},
	}

	if err := r.store.RecordAssignment(assignment, true); err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeConflict) {
			return nil, fmt.Errorf("%w: contact %s", ErrAlreadyRouted, contactID)
		}
		return nil, fmt.Errorf("failed to record assignment: %w", err)
	}
	return assignment, nil
}

// RecordManual persists an operator-made assignment. Manual assignments skip
// the one-per-contact uniqueness guard and never touch rule match counters.
func (r *Recorder) RecordManual(contactID, userID, groupID, note string) (*Assignment, error) {
	assignment := &Assignment{
		ContactID: contactID,
		UserID:    userID,
		GroupID:   groupID,
		Method:    MethodManual,
		Metadata: AssignmentMetadata{
			Note: note,
		},
	}

	if err := r.store.RecordAssignment(assignment, false); err != nil {
		return nil, fmt.Errorf("failed to record manual assignment: %w", err)
	}
	return assignment, nil
}
