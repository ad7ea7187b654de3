// Package dispatch routes a reasoner's selected action to the handler
// registered for its action type.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"actcore/internal/handlers"
	"actcore/internal/logging"
	"actcore/internal/shutdown"
	"actcore/internal/types"

	"github.com/google/uuid"
)

// Dispatcher maps action types to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[types.ActionType]handlers.ActionHandler
	shutdown *shutdown.Coordinator
	now      func() time.Time
}

// New creates an empty dispatcher. coord may be nil.
func New(coord *shutdown.Coordinator) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[types.ActionType]handlers.ActionHandler),
		shutdown: coord,
		now:      time.Now,
	}
}

// NewDefault creates a dispatcher with every built-in handler registered
// against deps. deps.Shutdown becomes the dispatcher's coordinator.
func NewDefault(deps handlers.Dependencies) *Dispatcher {
	d := New(deps.Shutdown)
	if deps.Now != nil {
		d.now = deps.Now
	}
	for _, h := range []handlers.ActionHandler{
		handlers.NewSpeakHandler(deps),
		handlers.NewObserveHandler(deps),
		handlers.NewToolHandler(deps),
		handlers.NewMemorizeHandler(deps),
		handlers.NewRecallHandler(deps),
		handlers.NewForgetHandler(deps),
		handlers.NewDeferHandler(deps),
		handlers.NewRejectHandler(deps),
		handlers.NewPonderHandler(deps),
		handlers.NewTaskCompleteHandler(deps),
	} {
		d.Register(h)
	}
	logging.Dispatch("Dispatcher ready with %d handlers", len(d.handlers))
	return d
}

// Register installs h for its action type, replacing any previous handler.
func (d *Dispatcher) Register(h handlers.ActionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.handlers[h.Action()]; ok {
		logging.Get(logging.CategoryDispatch).Warn("Replacing %s handler %s with %s", h.Action(), prev.Name(), h.Name())
	}
	d.handlers[h.Action()] = h
}

// Handler returns the handler registered for action.
func (d *Dispatcher) Handler(action types.ActionType) (handlers.ActionHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[action]
	return h, ok
}

// Actions lists the registered action types in sorted order.
func (d *Dispatcher) Actions() []types.ActionType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.ActionType, 0, len(d.handlers))
	for a := range d.handlers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs the handler for result.SelectedAction and returns its
// follow-up thought id and error unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, result *types.ActionResult, thought *types.Thought, dc types.DispatchContext) (string, error) {
	if d.shutdown.IsShutdownRequested() {
		logging.Get(logging.CategoryDispatch).Warn("Refusing %s for thought %s: %s", actionOf(result), thoughtID(thought), d.shutdown.Reason())
		return "", shutdown.ErrShuttingDown
	}
	if result == nil {
		return "", &types.HandlerError{Kind: types.ErrKindValidation, Op: "dispatch", Err: fmt.Errorf("action result is required")}
	}
	if thought == nil {
		return "", &types.HandlerError{Kind: types.ErrKindValidation, Action: result.SelectedAction, Op: "dispatch", Err: fmt.Errorf("thought is required")}
	}

	h, ok := d.Handler(result.SelectedAction)
	if !ok {
		return "", &types.HandlerError{
			Kind:   types.ErrKindValidation,
			Action: result.SelectedAction,
			Op:     "dispatch",
			Err:    fmt.Errorf("unknown action type: %s", result.SelectedAction),
		}
	}

	dc.HandlerName = h.Name()
	dc.ActionType = result.SelectedAction
	if dc.TaskID == "" {
		dc.TaskID = thought.SourceTaskID
	}
	if dc.ThoughtID == "" {
		dc.ThoughtID = thought.ID
	}
	if dc.CorrelationID == "" {
		dc.CorrelationID = uuid.New().String()
	}
	if dc.EventTimestamp.IsZero() {
		dc.EventTimestamp = d.now()
	}

	timer := logging.StartTimer(logging.CategoryDispatch, "dispatch "+string(result.SelectedAction))
	defer timer.Stop()

	logging.DispatchDebug("Dispatching %s for thought %s to %s (correlation %s)", result.SelectedAction, thought.ID, h.Name(), dc.CorrelationID)
	followUpID, err := h.Handle(ctx, result, thought, dc)
	if err != nil {
		logging.Get(logging.CategoryDispatch).Error("%s failed for thought %s: %v", h.Name(), thought.ID, err)
		return followUpID, err
	}
	if followUpID != "" {
		logging.Dispatch("%s completed thought %s; follow-up %s", h.Name(), thought.ID, followUpID)
	} else {
		logging.Dispatch("%s completed thought %s", h.Name(), thought.ID)
	}
	return followUpID, nil
}

func actionOf(result *types.ActionResult) types.ActionType {
	if result == nil {
		return ""
	}
	return result.SelectedAction
}

func thoughtID(thought *types.Thought) string {
	if thought == nil {
		return ""
	}
	return thought.ID
}
