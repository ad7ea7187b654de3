package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"actcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	added   []types.Correlation
	updates map[string]types.CorrelationUpdate
	addErr  error
}

func (r *recordingStore) AddCorrelation(_ context.Context, c *types.Correlation) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.added = append(r.added, *c)
	return nil
}

func (r *recordingStore) UpdateCorrelation(_ context.Context, id string, u types.CorrelationUpdate) error {
	if r.updates == nil {
		r.updates = make(map[string]types.CorrelationUpdate)
	}
	r.updates[id] = u
	return nil
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestTracker_Success(t *testing.T) {
	st := &recordingStore{}
	tr := NewTracker(st, WithClock(steppingClock(time.Unix(0, 0), 25*time.Millisecond)))

	_, span := tr.Start(context.Background(), "task-1", "th-1", "DeferHandler", types.ActionDefer)
	require.Len(t, st.added, 1)
	rec := st.added[0]
	assert.Equal(t, span.CorrelationID(), rec.ID)
	assert.Equal(t, types.CorrelationPending, rec.Status)
	// Global no-op provider: ids fall back to the task/thought key
	assert.Equal(t, "task_task-1_th-1", span.TraceID())
	assert.Equal(t, "DeferHandler_th-1", rec.SpanID)

	span.End(nil)
	span.End(errors.New("ignored"))

	u := st.updates[rec.ID]
	assert.Equal(t, types.CorrelationCompleted, u.Status)
	assert.Equal(t, int64(25), u.DurationMS)
	assert.Empty(t, u.Error)
}

func TestTracker_Failure(t *testing.T) {
	st := &recordingStore{}
	tr := NewTracker(st)

	_, span := tr.Start(context.Background(), "task-1", "th-1", "ToolHandler", types.ActionTool)
	span.End(errors.New("tool blew up"))

	u := st.updates[span.CorrelationID()]
	assert.Equal(t, types.CorrelationFailed, u.Status)
	assert.Equal(t, "tool blew up", u.Error)
}

func TestTracker_StoreFailureIsNotFatal(t *testing.T) {
	st := &recordingStore{addErr: errors.New("disk full")}
	tr := NewTracker(st)

	_, span := tr.Start(context.Background(), "task-1", "th-1", "ToolHandler", types.ActionTool)
	span.End(nil)
	assert.Empty(t, st.updates)

	var nilSpan *Span
	nilSpan.End(nil)
}
