package diag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "cyclekit/pkg/logx"
)

// Provider contributes one named section of the debug report.
type Provider func(ctx context.Context) (any, error)

// Collector gathers the sections registered by the application components.
type Collector struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewCollector() *Collector {
	return &Collector{providers: map[string]Provider{}}
}

// Register adds or replaces the section name. A nil provider removes it.
func (c *Collector) Register(name string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == nil {
		delete(c.providers, name)
		return
	}
	c.providers[name] = p
}

// Static registers a provider that never fails.
func (c *Collector) Static(name string, fn func() any) {
	c.Register(name, func(context.Context) (any, error) { return fn(), nil })
}

type Report struct {
	Time     time.Time         `json:"time"`
	Sections map[string]any    `json:"sections"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Names lists the registered sections in order.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for n := range c.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Collect runs every provider. A failing or panicking provider is reported
// under Errors and does not affect the other sections.
func (c *Collector) Collect(ctx context.Context) Report {
	c.mu.RLock()
	ps := make(map[string]Provider, len(c.providers))
	for n, p := range c.providers {
		ps[n] = p
	}
	c.mu.RUnlock()

	r := Report{Time: time.Now(), Sections: make(map[string]any, len(ps))}
	for name, p := range ps {
		v, err := safeCall(ctx, p)
		if err != nil {
			if r.Errors == nil {
				r.Errors = map[string]string{}
			}
			r.Errors[name] = err.Error()
			continue
		}
		r.Sections[name] = v
	}
	return r
}

func safeCall(ctx context.Context, p Provider) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panicked: %v", rec)
		}
	}()
	return p(ctx)
}

// LogSnapshot writes the current report as one info line.
func LogSnapshot(ctx context.Context, c *Collector, log logx.Logger) {
	r := c.Collect(ctx)
	fields := []logx.Field{logx.Int("sections", len(r.Sections)), logx.Any("report", r.Sections)}
	if len(r.Errors) > 0 {
		fields = append(fields, logx.Any("errors", r.Errors))
	}
	log.Info("diagnostics snapshot", fields...)
}
