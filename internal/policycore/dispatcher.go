package policycore

import (
	"database/sql"
	"fmt"

	cedartypes "github.com/cedar-policy/cedar-go/types"
	"go.uber.org/zap"

	"github.com/tinytodo/authz-server/internal/entitystore"
	"github.com/tinytodo/authz-server/internal/metrics"
	"github.com/tinytodo/authz-server/internal/schema"
	ttypes "github.com/tinytodo/authz-server/pkg/types"
)

// Dispatcher is the Policy Decision Core (C5): a single-owner serialized
// mailbox actor. It owns the policy set, the schema, and the SQL handle; no
// other goroutine touches the store directly. Grounded on the original
// source's AppContext::serve dispatch loop, expressed as a Go goroutine
// reading a buffered channel instead of an async task reading a queue.
type Dispatcher struct {
	store  *entitystore.Store
	schema *schema.Map
	policy *PolicyStore
	authz  *Authorizer
	logger *zap.Logger
	mbox   chan ttypes.Command
	metrics *metrics.Metrics
}

// Spawn starts the dispatch loop in its own goroutine and returns the
// mailbox send side, per the spec's "spawn returns a sender handle"
// process-lifecycle note. capacity is the bounded mailbox size (§5,
// default 100). m may be nil, in which case no metrics are recorded.
func Spawn(store *entitystore.Store, sm *schema.Map, initialPolicy *PolicyStore, capacity int, logger *zap.Logger, m *metrics.Metrics) chan<- ttypes.Command {
	d := &Dispatcher{
		store:   store,
		schema:  sm,
		policy:  initialPolicy,
		authz:   NewAuthorizer(sm, DefaultMembershipResolver),
		logger:  logger,
		mbox:    make(chan ttypes.Command, capacity),
		metrics: m,
	}
	go d.run()
	return d.mbox
}

func (d *Dispatcher) run() {
	for cmd := range d.mbox {
		if d.metrics != nil {
			d.metrics.MailboxDepth.Set(float64(len(d.mbox)))
		}
		if cmd.Kind == ttypes.UpdatePolicySet {
			d.handleUpdatePolicySet(cmd)
			continue
		}
		resp := d.dispatch(cmd)
		d.reply(cmd.Reply, resp)
	}
}

// reply sends on the one-shot channel without blocking forever if the
// caller has already given up (§5: "if the caller drops its reply slot,
// the handler still runs to completion... and the reply is discarded").
func (d *Dispatcher) reply(ch chan ttypes.Response, resp ttypes.Response) {
	select {
	case ch <- resp:
	default:
		d.logger.Debug("reply slot abandoned by caller", zap.String("kind", resp.Kind.String()))
	}
}

func (d *Dispatcher) dispatch(cmd ttypes.Command) ttypes.Response {
	switch cmd.Kind {
	case ttypes.CreateList:
		return d.handleCreateList(cmd)
	case ttypes.GetList:
		return d.handleGetList(cmd)
	case ttypes.UpdateList:
		return d.handleUpdateList(cmd)
	case ttypes.DeleteList:
		return d.handleDeleteList(cmd)
	case ttypes.CreateTask:
		return d.handleCreateTask(cmd)
	case ttypes.UpdateTask:
		return d.handleUpdateTask(cmd)
	case ttypes.DeleteTask:
		return d.handleDeleteTask(cmd)
	case ttypes.GetLists:
		return d.handleGetLists(cmd)
	case ttypes.AddShare:
		return d.handleAddShare(cmd)
	case ttypes.DeleteShare:
		return d.handleDeleteShare(cmd)
	default:
		return ttypes.ErrResponse(ttypes.Internal(fmt.Sprintf("unhandled command kind %s", cmd.Kind)))
	}
}

// handleUpdatePolicySet swaps in a new policy set generation, delivered
// only by the reload watcher (§4.6). There is no reply slot: the watcher
// does not wait for acknowledgement.
func (d *Dispatcher) handleUpdatePolicySet(cmd ttypes.Command) {
	store, err := LoadPolicySet(cmd.PolicySource, cmd.PolicyDocument)
	if err != nil {
		d.logger.Warn("policy reload parse failed, keeping previous generation", zap.Error(err))
		if d.metrics != nil {
			d.metrics.Reloads.WithLabelValues("parse_error").Inc()
		}
		return
	}
	d.policy = store
	d.logger.Info("policy set reloaded", zap.Int("policies", store.Len()))
	if d.metrics != nil {
		d.metrics.Reloads.WithLabelValues("success").Inc()
	}
}

// requestEntities builds the Request-Scoped Entity Cache (C3) for one
// dispatch, seeded with the principal/action/resource of this request.
func (d *Dispatcher) requestEntities(principal, action, resource cedartypes.EntityUID) *entitystore.RequestCache {
	return entitystore.NewRequestCache(d.store, principal, action, resource)
}

func (d *Dispatcher) authorize(principal, action, resource cedartypes.EntityUID) (*entitystore.RequestCache, *ttypes.Error) {
	entities := d.requestEntities(principal, action, resource)
	err := d.authz.Authorize(d.policy, principal, action, resource, entities)
	if d.metrics != nil {
		outcome := "allow"
		if err != nil {
			outcome = "deny"
		}
		d.metrics.Decisions.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, err
	}
	return entities, nil
}

// authorizeExisting is used by every handler whose resource is a
// user-supplied identifier that is expected to already have a row: it
// resolves the resource first so a missing identifier surfaces as
// NoSuchEntity rather than as an authorization-evaluation failure against
// an absent entity (§7, Scenario F). Policy evaluation only ever runs once
// existence is confirmed.
func (d *Dispatcher) authorizeExisting(principal, action, resource cedartypes.EntityUID) (*entitystore.RequestCache, *ttypes.Error) {
	if _, ok := d.store.Get(resource); !ok {
		return nil, ttypes.NoSuchEntity(resource)
	}
	return d.authorize(principal, action, resource)
}

func (d *Dispatcher) handleCreateList(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorize(cmd.Principal, ttypes.ActionCreateList, ttypes.ApplicationEUID); err != nil {
		return ttypes.ErrResponse(err)
	}
	uid, sqlErr := d.store.CreateList(cmd.Principal, cmd.Name)
	if sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.Response{Kind: ttypes.RespEUID, EUID: uid}
}

func (d *Dispatcher) handleGetList(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionGetList, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	list, sqlErr := d.store.GetList(cmd.List)
	if sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.Response{Kind: ttypes.RespGetList, List: list}
}

func (d *Dispatcher) handleUpdateList(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionUpdateList, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	if sqlErr := d.store.UpdateList(cmd.List, cmd.Name); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

func (d *Dispatcher) handleDeleteList(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionDeleteList, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	if sqlErr := d.store.DeleteList(cmd.List); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

func (d *Dispatcher) handleCreateTask(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionCreateTask, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	id, sqlErr := d.store.CreateTask(cmd.List, cmd.Name)
	if sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.Response{Kind: ttypes.RespTaskID, TaskID: id}
}

func (d *Dispatcher) handleUpdateTask(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionUpdateTask, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	if cmd.Checked == nil {
		return ttypes.UnitResponse()
	}
	state := ttypes.Unchecked
	if *cmd.Checked {
		state = ttypes.Checked
	}
	if sqlErr := d.store.UpdateTask(cmd.List, cmd.TaskID, state); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

func (d *Dispatcher) handleDeleteTask(cmd ttypes.Command) ttypes.Response {
	// A task id on a list that no longer exists matches no task row, so it
	// is reported as InvalidTaskId rather than NoSuchEntity.
	if _, ok := d.store.Get(cmd.List); !ok {
		return ttypes.ErrResponse(ttypes.InvalidTaskID(cmd.List, cmd.TaskID))
	}
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionDeleteTask, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	if sqlErr := d.store.DeleteTask(cmd.List, cmd.TaskID); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

// handleGetLists implements §4.3/§4.5 step 3: gate on is_authorized against
// the Application singleton, then partially evaluate against an unknown
// List-typed resource, translate the residual to SQL, and run it.
func (d *Dispatcher) handleGetLists(cmd ttypes.Command) ttypes.Response {
	entities := d.requestEntities(cmd.Principal, ttypes.ActionGetLists, ttypes.ApplicationEUID)
	if err := d.authz.Authorize(d.policy, cmd.Principal, ttypes.ActionGetLists, ttypes.ApplicationEUID, entities); err != nil {
		return ttypes.ErrResponse(err)
	}

	frag, fragErr := d.authz.ResidualFragment(d.policy, cmd.Principal, ttypes.ActionGetList, ttypes.TypeList, entities)
	if fragErr != nil {
		return ttypes.ErrResponse(ttypes.Internal(fmt.Sprintf("translate residual: %v", fragErr)))
	}
	if d.metrics != nil {
		path := "residual"
		if frag.Where == "1" || frag.Where == "0" {
			path = "concrete"
		}
		d.metrics.TranslatorPath.WithLabelValues(path).Inc()
	}

	query := fmt.Sprintf("SELECT resource.uid AS uid FROM lists AS resource WHERE %s", frag.Where)
	uids, sqlErr := d.store.RunListQuery(query, frag.Args...)
	if sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.Response{Kind: ttypes.RespLists, Lists: uids}
}

func (d *Dispatcher) handleAddShare(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionEditShare, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	team, err := d.shareTeam(cmd.List, cmd.Role)
	if err != nil {
		return ttypes.ErrResponse(err)
	}
	if sqlErr := d.store.AddTeamMember(cmd.ShareWith, team); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

func (d *Dispatcher) handleDeleteShare(cmd ttypes.Command) ttypes.Response {
	if _, err := d.authorizeExisting(cmd.Principal, ttypes.ActionEditShare, cmd.List); err != nil {
		return ttypes.ErrResponse(err)
	}
	team, err := d.shareTeam(cmd.List, cmd.Role)
	if err != nil {
		return ttypes.ErrResponse(err)
	}
	if sqlErr := d.store.RemoveTeamMember(cmd.ShareWith, team); sqlErr != nil {
		return ttypes.ErrResponse(asError(sqlErr))
	}
	return ttypes.UnitResponse()
}

// shareTeam resolves a share role to the list's reader or editor team,
// implementing SPEC_FULL.md's supplemented AddShare/DeleteShare semantics.
func (d *Dispatcher) shareTeam(list cedartypes.EntityUID, role ttypes.ShareRole) (cedartypes.EntityUID, *ttypes.Error) {
	l, err := d.store.GetList(list)
	if err != nil {
		return cedartypes.EntityUID{}, asError(err)
	}
	if role == ttypes.Editor {
		return l.Editors, nil
	}
	return l.Readers, nil
}

// asError normalizes an entitystore error (already a *ttypes.Error or a
// raw database/sql error) to the dispatcher's closed error taxonomy.
func asError(err error) *ttypes.Error {
	if te, ok := err.(*ttypes.Error); ok {
		return te
	}
	if err == sql.ErrNoRows {
		return ttypes.Internal("unexpected missing row")
	}
	return ttypes.SQLError(err)
}
