package storage

import (
	"context"
	"sync/atomic"
	"time"

	"cyclekit/internal/eventbus"
	logx "cyclekit/pkg/logx"
)

const recorderBuffer = 256

// Recorder persists the history-worthy events of a bus. It subscribes on
// construction so no event published after NewRecorder returns is missed
// (unless the subscription buffer overflows).
type Recorder struct {
	store Store
	log   logx.Logger

	events      <-chan eventbus.Event
	unsubscribe func()

	written atomic.Uint64
	failed  atomic.Uint64
}

type RecorderStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(recorderBuffer)
	return &Recorder{store: store, log: log.With(logx.String("comp", "recorder")), events: ch, unsubscribe: unsub}
}

// Run writes events until ctx is done or the bus subscription closes.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	te, ok := TaskEventOf(ev)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.AppendTaskEvent(wctx, te); err != nil {
		if r.failed.Add(1) == 1 {
			r.log.Warn("history write failed", logx.String("type", te.Type), logx.Err(err))
		}
		return
	}
	r.written.Add(1)
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{Written: r.written.Load(), Failed: r.failed.Load()}
}

// TaskEventOf converts the history-worthy bus events; other events report false.
func TaskEventOf(ev eventbus.Event) (TaskEvent, bool) {
	te := TaskEvent{At: ev.Time, Type: ev.Type, Source: ev.Source}
	switch ev.Type {
	case eventbus.TypeTaskFailed, eventbus.TypeFutureRejected:
		if f, ok := ev.Data.(eventbus.TaskFailure); ok {
			te.Error, te.Panic, te.Stack = f.Error, f.Panic, f.Stack
		}
	case eventbus.TypeIterationFinished:
		if st, ok := ev.Data.(eventbus.IterationStats); ok {
			te.Processed = st.Processed
			te.ElapsedMS = st.Elapsed.Milliseconds()
		}
	default:
		return TaskEvent{}, false
	}
	if te.At.IsZero() {
		te.At = time.Now()
	}
	return te, true
}
