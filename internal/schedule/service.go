package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cyclekit/internal/cycle"
	logx "cyclekit/pkg/logx"
)

var (
	ErrNilJob    = errors.New("schedule: nil job")
	ErrEmptyName = errors.New("schedule: empty job name")
)

// Option configures a Service.
type Option func(*Service)

// WithoutSpread disables the random first-run offset of interval jobs.
func WithoutSpread() Option { return func(s *Service) { s.spread = false } }

// Service owns a cron instance and the one-shot timers. It is safe for
// concurrent use.
type Service struct {
	env    cycle.Env
	log    logx.Logger
	parser cron.Parser
	spread bool

	mu   sync.Mutex
	c    *cron.Cron
	tz   string
	loc  *time.Location
	jobs map[string]*job
}

type job struct {
	name  string
	spec  string
	kind  string
	every time.Duration
	fn    func()

	sched   cron.Schedule
	entryID cron.EntryID

	at      time.Time
	timer   *time.Timer
	version uint64

	pending atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
	lastRun atomic.Int64
}

// New returns a stopped Service. tz names an IANA location; empty means local time.
func New(env cycle.Env, tz string, opts ...Option) *Service {
	if env.Log.IsZero() {
		env.Log = logx.Nop()
	}
	s := &Service{
		env: env,
		log: env.Log.With(logx.String("comp", "schedule")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		spread: true,
		tz:     strings.TrimSpace(tz),
		jobs:   map[string]*job{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start starts cron triggering and arms pending one-shot jobs.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	now := time.Now()
	for _, j := range s.jobs {
		s.armLocked(j, now)
	}
	s.c.Start()
}

// Stop stops cron triggering and the one-shot timers. Registered jobs are
// kept so that a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.jobs {
		s.disarmLocked(j, c)
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Running reports whether Start has been called without a later Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// SetTimezone changes the location used for cron expressions. A running
// service is restarted with every job re-registered.
func (s *Service) SetTimezone(tz string) {
	tz = strings.TrimSpace(tz)
	s.mu.Lock()
	defer s.mu.Unlock()
	if tz == s.tz {
		return
	}
	s.tz = tz
	if s.c == nil {
		return
	}
	old := s.c
	for _, j := range s.jobs {
		s.disarmLocked(j, old)
	}
	old.Stop()
	s.startLocked()
	s.log.Info("timezone changed", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	if s.tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", s.tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Add registers fn under name using any form accepted by ParseSchedule.
// Adding an existing name replaces it.
func (s *Service) Add(name, spec string, fn func()) error {
	p, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	switch p.Kind {
	case SpecInterval:
		return s.AddInterval(name, p.Every, fn)
	default:
		return s.AddCron(name, p.Cron, fn)
	}
}

// AddCron registers fn under name for a cron expression (5 or 6 fields, or a descriptor).
func (s *Service) AddCron(name, expr string, fn func()) error {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("schedule %q: invalid cron %q: %w", name, expr, err)
	}
	return s.put(&job{name: name, spec: expr, kind: "cron", fn: fn, sched: sched})
}

// AddInterval registers fn under name to fire every d. cron rounds d down to
// whole seconds.
func (s *Service) AddInterval(name string, every time.Duration, fn func()) error {
	if every < time.Second {
		return fmt.Errorf("schedule %q: interval must be at least 1s, got %s", name, every)
	}
	return s.put(&job{name: name, spec: "@every " + every.String(), kind: "interval", every: every, fn: fn})
}

// AddDaily registers fn under name to fire every day at hhmm (local to the
// service timezone).
func (s *Service) AddDaily(name, hhmm string, fn func()) error {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), fn)
}

// AddOnce registers fn under name to fire once at at. Past deadlines fire
// immediately. The job is forgotten after it fires.
func (s *Service) AddOnce(name string, at time.Time, fn func()) error {
	return s.put(&job{name: name, spec: at.Format(time.RFC3339), kind: "once", at: at, fn: fn})
}

func (s *Service) put(j *job) error {
	j.name = strings.TrimSpace(j.name)
	if j.name == "" {
		return ErrEmptyName
	}
	if j.fn == nil {
		return ErrNilJob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[j.name]; ok {
		s.disarmLocked(old, s.c)
		j.version = old.version + 1
	}
	s.jobs[j.name] = j
	if s.c != nil {
		s.armLocked(j, time.Now())
	}
	s.log.Debug("job registered", logx.String("job", j.name), logx.String("kind", j.kind), logx.String("spec", j.spec))
	return nil
}

// Remove deletes the job registered under name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.disarmLocked(j, s.c)
	delete(s.jobs, name)
	return true
}

func (s *Service) armLocked(j *job, now time.Time) {
	switch j.kind {
	case "once":
		ver := j.version
		j.timer = time.AfterFunc(max(time.Until(j.at), 0), func() { s.fireOnce(j.name, ver) })
	case "interval":
		sched, jitter := intervalSchedule(j.every, now, s.spread)
		j.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.trigger(j) }))
		if jitter > 0 {
			s.log.Debug("interval start spread", logx.String("job", j.name), logx.Duration("jitter", jitter))
		}
	default:
		j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() { s.trigger(j) }))
	}
}

func (s *Service) disarmLocked(j *job, c *cron.Cron) {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if c != nil && j.entryID != 0 {
		c.Remove(j.entryID)
	}
	j.entryID = 0
	j.version++
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok || j.version != ver {
		s.mu.Unlock()
		return
	}
	j.timer = nil
	delete(s.jobs, name)
	s.mu.Unlock()
	s.trigger(j)
}

// trigger hands j to the main cycle unless its previous run is still queued.
func (s *Service) trigger(j *job) {
	if !j.pending.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.log.Debug("previous run still pending; trigger skipped", logx.String("job", j.name))
		return
	}
	j.fired.Add(1)
	s.env.Host.RunTask(func() {
		defer j.pending.Store(false)
		j.lastRun.Store(time.Now().UnixNano())
		if err := cycle.Guard(j.fn); err != nil {
			j.failed.Add(1)
			s.env.Report("schedule:"+j.name, "scheduled job failed", err)
		}
	})
}

// Entry describes one registered job.
type Entry struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Spec    string        `json:"spec"`
	Every   time.Duration `json:"every,omitempty"`
	Next    time.Time     `json:"next,omitzero"`
	Prev    time.Time     `json:"prev,omitzero"`
	LastRun time.Time     `json:"last_run,omitzero"`
	Pending bool          `json:"pending"`
	Fired   uint64        `json:"fired"`
	Skipped uint64        `json:"skipped"`
	Failed  uint64        `json:"failed"`
}

type Snapshot struct {
	Running  bool    `json:"running"`
	Timezone string  `json:"timezone"`
	Entries  []Entry `json:"entries"`
}

// Snapshot lists registered jobs sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{Running: s.c != nil, Timezone: s.tz}
	if s.loc != nil {
		out.Timezone = s.loc.String()
	}
	for _, j := range s.jobs {
		e := Entry{
			Name:    j.name,
			Kind:    j.kind,
			Spec:    j.spec,
			Every:   j.every,
			Pending: j.pending.Load(),
			Fired:   j.fired.Load(),
			Skipped: j.skipped.Load(),
			Failed:  j.failed.Load(),
		}
		if ns := j.lastRun.Load(); ns != 0 {
			e.LastRun = time.Unix(0, ns)
		}
		if j.kind == "once" {
			e.Next = j.at
		} else if s.c != nil && j.entryID != 0 {
			ce := s.c.Entry(j.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out.Entries = append(out.Entries, e)
	}
	sort.Slice(out.Entries, func(a, b int) bool { return out.Entries[a].Name < out.Entries[b].Name })
	return out
}
