package system

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"cyclekit/internal/diag"
	"cyclekit/internal/pluginkit"
	logx "cyclekit/pkg/logx"
)

const (
	Name         = "system"
	DefaultEvery = "every:30s"
)

// Host is the part of the application the plugin needs.
type Host interface {
	NewKit(name string) (*pluginkit.Kit, error)
	Collector() *diag.Collector
}

type Sample struct {
	At         time.Time `json:"at"`
	Goroutines int       `json:"goroutines"`
	HeapAlloc  uint64    `json:"heap_alloc"`
	Sys        uint64    `json:"sys"`
	NumGC      uint32    `json:"num_gc"`
}

type Status struct {
	Uptime   string  `json:"uptime"`
	Go       string  `json:"go"`
	Module   string  `json:"module,omitempty"`
	Samples  int     `json:"samples"`
	Peak     int     `json:"peak_goroutines"`
	Last     *Sample `json:"last,omitempty"`
	Alloc    string  `json:"alloc,omitempty"`
	SysBytes string  `json:"sys,omitempty"`
}

// Plugin samples runtime statistics off the main cycle and publishes them as
// the "system" diagnostics section.
type Plugin struct {
	kit       *pluginkit.Kit
	every     string
	startedAt time.Time
	read      func() Sample

	mu      sync.Mutex
	last    Sample
	samples int
	peak    int
}

// Register creates the plugin's kit on h. An empty every selects
// DefaultEvery.
func Register(h Host, every string) (*Plugin, error) {
	if every == "" {
		every = DefaultEvery
	}
	k, err := h.NewKit(Name)
	if err != nil {
		return nil, err
	}
	p := &Plugin{kit: k, every: every, startedAt: time.Now(), read: readSample}
	if err := k.OnEnable(p.enable); err != nil {
		return nil, err
	}
	h.Collector().Register(Name, func(context.Context) (any, error) { return p.Status(), nil })
	return p, nil
}

func (p *Plugin) enable(_ context.Context, k *pluginkit.Kit) error {
	if err := k.Every("sample", p.every, p.sample); err != nil {
		return fmt.Errorf("system: schedule sample: %w", err)
	}
	return nil
}

func (p *Plugin) sample() {
	err := pluginkit.Deliver(p.kit, "sample", func(context.Context) (Sample, error) {
		return p.read(), nil
	}, p.store)
	if err != nil {
		p.kit.Log().Debug("sample skipped", logx.Err(err))
	}
}

// store runs on the main cycle.
func (p *Plugin) store(s Sample) {
	p.mu.Lock()
	prevPeak := p.peak
	p.last = s
	p.samples++
	if s.Goroutines > p.peak {
		p.peak = s.Goroutines
	}
	p.mu.Unlock()

	if prevPeak > 0 && s.Goroutines > 2*prevPeak {
		p.kit.Log().Warn("goroutine count doubled", logx.Int("goroutines", s.Goroutines), logx.Int("previous_peak", prevPeak))
	}
}

func (p *Plugin) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Uptime:  durRel(time.Since(p.startedAt)),
		Go:      runtime.Version(),
		Samples: p.samples,
		Peak:    p.peak,
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		st.Module = bi.Main.Path + " " + bi.Main.Version
	}
	if p.samples > 0 {
		last := p.last
		st.Last = &last
		st.Alloc = fmtBytes(last.HeapAlloc)
		st.SysBytes = fmtBytes(last.Sys)
	}
	return st
}

func readSample() Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Sample{
		At:         time.Now(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
