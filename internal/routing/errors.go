package routing

import "errors"

var (
	// ErrNoEligibleMembers is returned by the fairness selector when a group
	// has zero active members.
	ErrNoEligibleMembers = errors.New("no eligible members")

	// ErrAlreadyRouted is returned when a contact already has an assignment
	// and an automatic route is attempted.
	ErrAlreadyRouted = errors.New("contact already routed")

	// ErrMalformedCondition is returned when a condition expression fails to
	// parse against the supported grammar. At the rule boundary it collapses
	// to a non-match rather than aborting evaluation.
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrUnsupportedOperator is returned for operators outside the closed set.
	ErrUnsupportedOperator = errors.New("unsupported operator")
)
