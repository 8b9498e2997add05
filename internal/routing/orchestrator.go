package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/common/logging"
)

// routeState names the phases a route attempt moves through. Attempts only
// move forward; any failure resolves to a terminal RouteResult.
type routeState string

const (
	stateLoaded    routeState = "LOADED"
	stateMatching  routeState = "MATCHING"
	stateSelecting routeState = "SELECTING"
	stateRecording routeState = "RECORDING"
	stateRouted    routeState = "ROUTED"
)

// Locker serializes route attempts on a single contact across processes.
// Release is always safe to call.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RecordFetcher refreshes a contact's fields from the external CRM before
// matching, so rules evaluate against current data rather than the local copy.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, objectType ObjectType, externalID string) (Record, error)
}

// RulesetCache serves active ruleset lists without a storage round trip.
// Implementations may serve slightly stale data; a miss or error falls
// through to storage.
type RulesetCache interface {
	Get(ctx context.Context, trigger string) ([]*Ruleset, bool)
	Set(ctx context.Context, trigger string, rulesets []*Ruleset)
}

// OwnerWriter propagates the assigned owner back to the external CRM after
// recording. Write-back is best-effort; a failure never unwinds an assignment.
type OwnerWriter interface {
	WriteOwner(ctx context.Context, objectType ObjectType, externalID, userID string) error
}

// EventPublisher announces completed assignments to downstream consumers.
// Publishing is best-effort; a failed publish never unwinds an assignment.
type EventPublisher interface {
	PublishAssignment(ctx context.Context, a *Assignment) error
}

// OrchestratorOptions tune the routing pipeline.
type OrchestratorOptions struct {
	// RouteTimeout bounds one complete route attempt.
	RouteTimeout time.Duration
	// FetchTimeout bounds the CRM field refresh inside an attempt.
	FetchTimeout time.Duration
}

func (o *OrchestratorOptions) withDefaults() {
	if o.RouteTimeout <= 0 {
		o.RouteTimeout = 10 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
}

// Orchestrator drives a contact through load, match, select and record.
//
// Routing is fail-open: when no rule matches, no member is eligible or the
// contact was already routed, the contact is left unassigned and the result
// carries the reason. Errors only surface for infrastructure failures.
type Orchestrator struct {
	store       Store
	matcher     *Matcher
	recorder    *Recorder
	locker      Locker
	fetcher     RecordFetcher
	ownerWriter OwnerWriter
	publisher   EventPublisher
	cache       RulesetCache
	opts        OrchestratorOptions
	logger      logging.Logger
}

func NewOrchestrator(store Store, matcher *Matcher, recorder *Recorder, opts OrchestratorOptions) *Orchestrator {
	opts.withDefaults()
	return &Orchestrator{
		store:    store,
		matcher:  matcher,
		recorder: recorder,
		opts:     opts,
		logger:   logging.GetGlobalLogger(),
	}
}

// WithLocker installs a distributed per-contact lock. Without one the
// database uniqueness guard is the only defense against double routing.
func (o *Orchestrator) WithLocker(locker Locker) *Orchestrator {
	o.locker = locker
	return o
}

// WithFetcher installs a CRM record fetcher for externally-synced contacts.
func (o *Orchestrator) WithFetcher(fetcher RecordFetcher) *Orchestrator {
	o.fetcher = fetcher
	return o
}

// WithOwnerWriter installs a CRM owner write-back for externally-synced
// contacts.
func (o *Orchestrator) WithOwnerWriter(writer OwnerWriter) *Orchestrator {
	o.ownerWriter = writer
	return o
}

// WithPublisher installs an assignment event publisher.
func (o *Orchestrator) WithPublisher(publisher EventPublisher) *Orchestrator {
	o.publisher = publisher
	return o
}

// WithRulesetCache installs a cache for active ruleset lists.
func (o *Orchestrator) WithRulesetCache(cache RulesetCache) *Orchestrator {
	o.cache = cache
	return o
}

// WithLogger overrides the pipeline logger.
func (o *Orchestrator) WithLogger(logger logging.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// RouteContact routes one contact through the active rulesets for the given
// trigger, recording the assignment with the given method (auto or
// retroactive).
func (o *Orchestrator) RouteContact(ctx context.Context, contactID, trigger string, method Method) (*RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RouteTimeout)
	defer cancel()

	log := o.logger.WithFields(logging.Field{Key: "contact_id", Value: contactID})

	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, "route:"+contactID)
		if err != nil {
			if result := o.timeoutResult(ctx, contactID); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("failed to acquire route lock: %w", err)
		}
		defer release()
	}

	result, err := o.route(ctx, contactID, trigger, method, log)
	if err != nil {
		if result := o.timeoutResult(ctx, contactID); result != nil {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) route(ctx context.Context, contactID, trigger string, method Method, log logging.Logger) (*RouteResult, error) {
	state := stateLoaded

	contact, err := o.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	if contact.Source == "crm" && contact.ExternalID != "" && o.fetcher != nil {
		if err := o.refreshFields(ctx, contact); err != nil {
			log.Warn("CRM field refresh failed, matching against stored fields",
				logging.Field{Key: "external_id", Value: contact.ExternalID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	// Idempotency guard: any existing assignment, by any method, settles the
	// contact. The partial unique index backstops this check under races.
	if _, err := o.store.GetAssignmentByContact(contactID); err == nil {
		log.Debug("contact already routed", logging.Field{Key: "state", Value: string(state)})
		return &RouteResult{ContactID: contactID, Reason: ReasonAlreadyRouted}, nil
	} else if !apperrors.IsType(err, apperrors.ErrTypeNotFound) {
		return nil, err
	}

	state = stateMatching
	log.Debug("route state", logging.Field{Key: "state", Value: string(state)})
	match, err := o.findMatch(ctx, contact, trigger)
	if err != nil {
		return nil, err
	}
	if match == nil {
		log.Info("no rule matched contact", logging.Field{Key: "trigger", Value: trigger})
		return &RouteResult{ContactID: contactID, Reason: ReasonNoMatchingRule}, nil
	}

	state = stateSelecting
	log.Debug("route state", logging.Field{Key: "state", Value: string(state)})
	member, err := o.selectMember(match.Rule.GroupID)
	if err != nil {
		if errors.Is(err, ErrNoEligibleMembers) {
			log.Warn("matched rule but group has no active members",
				logging.Field{Key: "rule_id", Value: match.Rule.ID},
				logging.Field{Key: "group_id", Value: match.Rule.GroupID})
			return &RouteResult{ContactID: contactID, Reason: ReasonNoActiveMembers}, nil
		}
		return nil, err
	}

	state = stateRecording
	log.Debug("route state", logging.Field{Key: "state", Value: string(state)})
	assignment, err := o.recorder.Record(contactID, match, member, method)
	if err != nil {
		if errors.Is(err, ErrAlreadyRouted) {
			return &RouteResult{ContactID: contactID, Reason: ReasonAlreadyRouted}, nil
		}
		return nil, err
	}

	state = stateRouted
	log.Info("contact routed",
		logging.Field{Key: "state", Value: string(state)},
		logging.Field{Key: "rule_id", Value: match.Rule.ID},
		logging.Field{Key: "user_id", Value: member.UserID},
		logging.Field{Key: "method", Value: string(method)})

	if o.ownerWriter != nil && contact.Source == "crm" && contact.ExternalID != "" {
		if err := o.ownerWriter.WriteOwner(ctx, contact.ObjectType, contact.ExternalID, member.UserID); err != nil {
			log.Warn("failed to write owner back to CRM",
				logging.Field{Key: "external_id", Value: contact.ExternalID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	if o.publisher != nil {
		if err := o.publisher.PublishAssignment(ctx, assignment); err != nil {
			log.Warn("failed to publish assignment event",
				logging.Field{Key: "assignment_id", Value: assignment.ID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	return &RouteResult{ContactID: contactID, Routed: true, Assignment: assignment}, nil
}

// Preview runs matching and tentative selection for a contact without
// recording anything. Counters and match counts are untouched, so repeated
// previews always report the same outcome for unchanged data.
func (o *Orchestrator) Preview(ctx context.Context, contactID, trigger string) (*RouteResult, error) {
	contact, err := o.store.GetContact(contactID)
	if err != nil {
		return nil, err
	}

	match, err := o.findMatch(ctx, contact, trigger)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return &RouteResult{ContactID: contactID, Reason: ReasonNoMatchingRule}, nil
	}

	member, err := o.selectMember(match.Rule.GroupID)
	if err != nil {
		if errors.Is(err, ErrNoEligibleMembers) {
			return &RouteResult{ContactID: contactID, Reason: ReasonNoActiveMembers}, nil
		}
		return nil, err
	}

	ruleID := match.Rule.ID
	return &RouteResult{
		ContactID: contactID,
		Routed:    true,
		Assignment: &Assignment{
			ContactID: contactID,
			UserID:    member.UserID,
			GroupID:   member.GroupID,
			RuleID:    &ruleID,
			Metadata: AssignmentMetadata{
				RuleName:          match.Rule.Name,
				RulesetID:         match.Rule.RulesetID,
				MatchedConditions: match.Conditions,
			},
		},
	}, nil
}

// RouteUnrouted routes up to limit contacts that have no assignment yet,
// recording each with the given method. Used by the background poller (auto)
// and the retroactive endpoint. Per-contact failures are logged and skipped
// so one bad contact never stalls the batch.
func (o *Orchestrator) RouteUnrouted(ctx context.Context, trigger string, method Method, limit int) ([]*RouteResult, error) {
	contacts, err := o.store.ListUnroutedContacts(limit)
	if err != nil {
		return nil, err
	}

	results := make([]*RouteResult, 0, len(contacts))
	for _, contact := range contacts {
		if ctx.Err() != nil {
			break
		}
		result, err := o.RouteContact(ctx, contact.ID, trigger, method)
		if err != nil {
			o.logger.Error("failed to route contact", err,
				logging.Field{Key: "contact_id", Value: contact.ID})
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (o *Orchestrator) refreshFields(ctx context.Context, contact *Contact) error {
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	fields, err := o.fetcher.FetchRecord(fetchCtx, contact.ObjectType, contact.ExternalID)
	if err != nil {
		return err
	}

	contact.Fields = fields
	return o.store.UpdateContactFields(contact.ID, fields)
}

// findMatch walks active rulesets for the trigger in creation order and
// returns the first matching rule across them, or nil when nothing matches.
// The ruleset list comes from the cache when one is installed.
func (o *Orchestrator) findMatch(ctx context.Context, contact *Contact, trigger string) (*Match, error) {
	rulesets, err := o.activeRulesets(ctx, trigger)
	if err != nil {
		return nil, err
	}

	for _, ruleset := range rulesets {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rules, err := o.store.ListRules(ruleset.ID)
		if err != nil {
			return nil, err
		}
		if match := o.matcher.FindMatch(rules, contact.ObjectType, contact.Fields); match != nil {
			return match, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) activeRulesets(ctx context.Context, trigger string) ([]*Ruleset, error) {
	if o.cache != nil {
		if rulesets, ok := o.cache.Get(ctx, trigger); ok {
			return rulesets, nil
		}
	}

	rulesets, err := o.store.ListActiveRulesets(trigger)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cache.Set(ctx, trigger, rulesets)
	}
	return rulesets, nil
}

func (o *Orchestrator) selectMember(groupID string) (*GroupMember, error) {
	group, err := o.store.GetGroup(groupID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
			return nil, ErrNoEligibleMembers
		}
		return nil, err
	}
	if !group.IsActive {
		return nil, ErrNoEligibleMembers
	}

	members, err := o.store.ListGroupMembers(groupID)
	if err != nil {
		return nil, err
	}

	counts, err := o.store.AssignmentCounts(groupID)
	if err != nil {
		return nil, err
	}

	return SelectNext(group, members, counts)
}

func (o *Orchestrator) timeoutResult(ctx context.Context, contactID string) *RouteResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.logger.Warn("route attempt timed out", logging.Field{Key: "contact_id", Value: contactID})
		return &RouteResult{ContactID: contactID, Reason: ReasonTimeout}
	}
	return nil
}
