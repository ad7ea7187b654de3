// Package handlers carries out actions selected by the reasoner. Every
// handler runs through BaseHandler.run, which owns the shared pipeline:
// trace span, secret decapsulation, audit start and outcome events, and
// metrics. Concrete handlers only implement their state transition.
package handlers

import (
	"context"
	"fmt"
	"time"

	"actcore/internal/config"
	"actcore/internal/logging"
	"actcore/internal/metrics"
	"actcore/internal/shutdown"
	"actcore/internal/tracing"
	"actcore/internal/types"
)

// ActionHandler executes one action type.
type ActionHandler interface {
	Name() string
	Action() types.ActionType
	// Handle returns the id of the follow-up thought it created, or "".
	// A non-nil error is always a *types.FollowUpCreationError or a
	// wiring problem; ordinary failures are recorded on the thought.
	Handle(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error)
}

// Dependencies are the collaborators injected into every handler. Buses may
// be nil; a handler that needs a missing bus fails the thought.
type Dependencies struct {
	Persistence   types.Persistence
	Communication types.CommunicationBus
	Memory        types.MemoryBus
	Tools         types.ToolBus
	WiseAuthority types.WiseAuthorityBus
	Audit         types.AuditBus
	Scheduler     types.TaskScheduler
	Filter        types.FilterService
	Secrets       types.SecretsDecapsulator
	Tracker       *tracing.Tracker
	Metrics       *metrics.Metrics
	Shutdown      *shutdown.Coordinator
	Config        config.HandlerConfig
	Now           func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Now == nil {
		d.Now = time.Now
	}
	def := config.DefaultHandlerConfig()
	if d.Config.MaxThoughtDepth <= 0 || d.Config.MaxThoughtDepth > types.MaxThoughtDepth {
		d.Config.MaxThoughtDepth = def.MaxThoughtDepth
	}
	if d.Config.ObserveMessageLimit <= 0 {
		d.Config.ObserveMessageLimit = def.ObserveMessageLimit
	}
	if d.Config.RecallMaxPayload <= 0 {
		d.Config.RecallMaxPayload = def.RecallMaxPayload
	}
	if d.Config.RecallDefaultLimit <= 0 {
		d.Config.RecallDefaultLimit = def.RecallDefaultLimit
	}
	if d.Config.ObserveRecallWorkers <= 0 {
		d.Config.ObserveRecallWorkers = def.ObserveRecallWorkers
	}
	return d
}

// Audit outcome values other than error kinds.
const (
	OutcomeStart    = "start"
	OutcomeSuccess  = "success"
	OutcomeDeferred = "deferred"
	OutcomeRejected = "rejected"
)

// invocation is the per-call state handed to a handler body.
type invocation struct {
	// result is the reasoner's original action; it is what gets persisted
	// as the thought's final action, so it never holds decapsulated secrets.
	result  *types.ActionResult
	params  map[string]any
	thought *types.Thought
	dc      types.DispatchContext
}

// outcome is what a handler body reports back to run.
type outcome struct {
	followUpID string
	// status overrides the audit outcome; empty derives it from kind.
	status string
	kind   types.ErrorKind
	err    error
	data   map[string]any
}

func (o outcome) auditStatus() string {
	if o.status != "" {
		return o.status
	}
	if o.kind == types.ErrKindNone {
		return OutcomeSuccess
	}
	return o.kind.String()
}

type handlerBody func(ctx context.Context, inv *invocation) (outcome, error)

// BaseHandler holds the dependencies and the shared pipeline.
type BaseHandler struct {
	deps   Dependencies
	name   string
	action types.ActionType
}

func newBase(deps Dependencies, name string, action types.ActionType) BaseHandler {
	return BaseHandler{deps: deps.withDefaults(), name: name, action: action}
}

// Name returns the handler name used in audit events and metrics.
func (b *BaseHandler) Name() string { return b.name }

// Action returns the action type this handler executes.
func (b *BaseHandler) Action() types.ActionType { return b.action }

func (b *BaseHandler) run(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext, body handlerBody) (string, error) {
	if thought == nil {
		return "", &types.HandlerError{Kind: types.ErrKindValidation, Action: b.action, Op: "handle", Err: fmt.Errorf("thought is required")}
	}
	if b.deps.Persistence == nil {
		return "", &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: b.action, Op: "handle", Err: fmt.Errorf("persistence not configured")}
	}
	if result == nil {
		result = &types.ActionResult{SelectedAction: b.action}
	}

	start := b.deps.Now()
	if dc.HandlerName == "" {
		dc.HandlerName = b.name
	}
	if dc.ActionType == "" {
		dc.ActionType = b.action
	}
	if dc.ThoughtID == "" {
		dc.ThoughtID = thought.ID
	}
	if dc.TaskID == "" {
		dc.TaskID = thought.SourceTaskID
	}

	var span *tracing.Span
	if b.deps.Tracker != nil {
		ctx, span = b.deps.Tracker.Start(ctx, thought.SourceTaskID, thought.ID, b.name, b.action)
		if dc.CorrelationID == "" {
			dc.CorrelationID = span.CorrelationID()
		}
	}

	logging.HandlersDebug("%s handling thought %s (task %s, depth %d)", b.name, thought.ID, thought.SourceTaskID, thought.Depth)
	b.logAudit(ctx, thought, dc, OutcomeStart, nil)

	inv := &invocation{
		result:  result,
		params:  b.DecapsulateSecrets(ctx, result.Parameters, dc),
		thought: thought,
		dc:      dc,
	}

	out, err := body(ctx, inv)
	if err != nil {
		out.kind = types.KindOf(err)
		out.status = ""
		out.err = err
	}

	data := map[string]any{"duration_ms": b.deps.Now().Sub(start).Milliseconds()}
	for k, v := range out.data {
		data[k] = v
	}
	if out.followUpID != "" {
		data["follow_up_id"] = out.followUpID
	}
	if out.err != nil {
		data["error"] = out.err.Error()
		data["error_kind"] = out.kind.String()
	}
	status := out.auditStatus()
	b.logAudit(ctx, thought, dc, status, data)

	span.End(out.err)
	b.deps.Metrics.ObserveHandler(b.name, status, b.deps.Now().Sub(start))

	if err != nil {
		logging.Get(logging.CategoryHandlers).Error("%s failed fatally for thought %s: %v", b.name, thought.ID, err)
		if out.kind == types.ErrKindFollowUpCreation && b.deps.Shutdown != nil {
			b.deps.Shutdown.RequestShutdown(fmt.Sprintf("%s could not persist follow-up for thought %s", b.name, thought.ID))
		}
		return "", err
	}
	if out.err != nil {
		logging.Get(logging.CategoryHandlers).Warn("%s finished thought %s with %s: %v", b.name, thought.ID, status, out.err)
	} else {
		logging.Handlers("%s finished thought %s: %s", b.name, thought.ID, status)
	}
	return out.followUpID, nil
}

// logAudit records one audit event. Failures are logged and never abort.
func (b *BaseHandler) logAudit(ctx context.Context, thought *types.Thought, dc types.DispatchContext, result string, data map[string]any) {
	b.emitAudit(ctx, types.AuditEvent{
		EventType:    "handler_action_" + string(b.action),
		Actor:        dc.Actor(),
		Handler:      b.name,
		ThoughtID:    thought.ID,
		TaskID:       thought.SourceTaskID,
		ActionType:   b.action,
		WAAuthorized: dc.WAAuthorized,
		Outcome:      result,
		Timestamp:    b.deps.Now(),
		Data:         data,
	})
}

func (b *BaseHandler) emitAudit(ctx context.Context, event types.AuditEvent) {
	if b.deps.Audit == nil {
		return
	}
	if err := b.deps.Audit.LogEvent(ctx, event); err != nil {
		logging.Get(logging.CategoryHandlers).Warn("Audit %s (%s) failed for thought %s: %v",
			event.EventType, event.Outcome, event.ThoughtID, err)
	}
}

// DecapsulateSecrets replaces secret references the action may see with
// their plaintext. On any failure the original parameters are returned.
func (b *BaseHandler) DecapsulateSecrets(ctx context.Context, params map[string]any, dc types.DispatchContext) map[string]any {
	if b.deps.Secrets == nil || len(params) == 0 {
		return params
	}
	out, err := b.deps.Secrets.DecapsulateParameters(ctx, b.action, params, dc.Actor())
	if err != nil {
		logging.Get(logging.CategoryHandlers).Warn("%s: secret decapsulation failed, using original parameters: %v", b.name, err)
		return params
	}
	return out
}

// ResolveChannelID finds the channel for a thought. Sources are tried in
// order and the first non-empty id wins: dispatch context, thought, thought
// context, initial task context, system snapshot, owning task.
func (b *BaseHandler) ResolveChannelID(ctx context.Context, thought *types.Thought, dc types.DispatchContext) string {
	if id := dc.ChannelID(); id != "" {
		return id
	}
	if thought != nil {
		if thought.ChannelID != "" {
			return thought.ChannelID
		}
		if c := thought.Context; c != nil {
			if c.ChannelID != "" {
				return c.ChannelID
			}
			if c.InitialTaskContext != nil && c.InitialTaskContext.ChannelContext != nil && c.InitialTaskContext.ChannelContext.ChannelID != "" {
				return c.InitialTaskContext.ChannelContext.ChannelID
			}
			if c.SystemSnapshot != nil && c.SystemSnapshot.ChannelContext != nil && c.SystemSnapshot.ChannelContext.ChannelID != "" {
				return c.SystemSnapshot.ChannelContext.ChannelID
			}
		}
		if thought.SourceTaskID != "" && b.deps.Persistence != nil {
			task, err := b.deps.Persistence.GetTask(ctx, thought.SourceTaskID)
			if err != nil {
				logging.HandlersDebug("channel lookup: task %s unavailable: %v", thought.SourceTaskID, err)
			} else if task != nil {
				return task.ChannelID
			}
		}
	}
	return ""
}

func (b *BaseHandler) finalAction(inv *invocation) *types.FinalAction {
	return &types.FinalAction{
		ActionType: b.action,
		Parameters: inv.result.Parameters,
		Rationale:  inv.result.Rationale,
	}
}

// setThoughtStatus records the thought's status and final action.
func (b *BaseHandler) setThoughtStatus(ctx context.Context, inv *invocation, status types.ThoughtStatus) {
	if err := b.deps.Persistence.UpdateThoughtStatus(ctx, inv.thought.ID, status, b.finalAction(inv)); err != nil {
		logging.Get(logging.CategoryHandlers).Error("Failed to set thought %s to %s: %v", inv.thought.ID, status, err)
	}
}

// setTaskStatus records the owning task's status.
func (b *BaseHandler) setTaskStatus(ctx context.Context, inv *invocation, status types.TaskStatus) {
	if inv.thought.SourceTaskID == "" {
		return
	}
	if err := b.deps.Persistence.UpdateTaskStatus(ctx, inv.thought.SourceTaskID, status); err != nil {
		logging.Get(logging.CategoryHandlers).Error("Failed to set task %s to %s: %v", inv.thought.SourceTaskID, status, err)
	}
}

// completeWithFollowUp sets the thought's status and persists a follow-up
// carrying content. The two steps are one unit: if the follow-up cannot be
// stored the error is a *types.FollowUpCreationError and must propagate.
func (b *BaseHandler) completeWithFollowUp(ctx context.Context, inv *invocation, status types.ThoughtStatus, content string) (string, error) {
	b.setThoughtStatus(ctx, inv, status)

	followUp := newFollowUp(inv.thought, content, b.deps.Config.MaxThoughtDepth, b.deps.Now())
	if err := b.deps.Persistence.AddThought(ctx, followUp); err != nil {
		return "", &types.FollowUpCreationError{ThoughtID: inv.thought.ID, Err: err}
	}
	b.deps.Metrics.FollowUpCreated(b.name)
	logging.HandlersDebug("%s created follow-up %s (depth %d) for thought %s", b.name, followUp.ID, followUp.Depth, inv.thought.ID)
	return followUp.ID, nil
}

// fail marks the thought FAILED, records a follow-up explaining why, and
// returns the matching outcome.
func (b *BaseHandler) fail(ctx context.Context, inv *invocation, kind types.ErrorKind, cause error, content string) (outcome, error) {
	id, err := b.completeWithFollowUp(ctx, inv, types.ThoughtStatusFailed, content)
	return outcome{followUpID: id, kind: kind, err: cause}, err
}

// invalidParams is the standard recovery for a *types.ParameterValidationError.
func (b *BaseHandler) invalidParams(ctx context.Context, inv *invocation, cause error) (outcome, error) {
	content := fmt.Sprintf("%s action failed: %v. Review the action parameters and choose a valid action.", b.action.Upper(), cause)
	return b.fail(ctx, inv, types.ErrKindValidation, cause, content)
}

// missingBus fails the thought when a required collaborator is absent.
func (b *BaseHandler) missingBus(ctx context.Context, inv *invocation, bus string) (outcome, error) {
	cause := &types.HandlerError{Kind: types.ErrKindExecutionFailed, Action: b.action, Op: bus, Err: fmt.Errorf("%s bus not available", bus)}
	content := fmt.Sprintf("%s action failed: the %s service is not available. Choose a different action.", b.action.Upper(), bus)
	return b.fail(ctx, inv, types.ErrKindExecutionFailed, cause, content)
}

// authorizeScope enforces the Wise-Authority gate on IDENTITY and
// ENVIRONMENT writes and deletes.
func (b *BaseHandler) authorizeScope(scope types.GraphScope, dc types.DispatchContext) error {
	if !scope.RequiresWAAuthorization() || dc.WAAuthorized {
		return nil
	}
	return &types.HandlerError{
		Kind:   types.ErrKindAuthorizationDenied,
		Action: b.action,
		Op:     "authorize",
		Err:    fmt.Errorf("%s scope requires Wise Authority authorization", scope.Upper()),
	}
}
