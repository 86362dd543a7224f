package ospbot

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	ErrUnknownCog       = errors.New("unknown cog")
	ErrCogAlreadyLoaded = errors.New("cog already loaded")
)

// Cog is a named group of commands
type Cog interface {
	Name() string
	Commands() []*Command
}

// CogConstructor builds a cog for the given bot
type CogConstructor func(d *OSPBot) (Cog, error)

// CogRegistration associates a cog name with its constructor
type CogRegistration struct {
	Name string
	New  CogConstructor
}

// defaultCogs is the registry of cogs available to load, in load order
func defaultCogs() []CogRegistration {
	return []CogRegistration{
		{Name: testCogName, New: newTestCog},
		{Name: birthdayCogName, New: newBirthdayCog},
		{Name: ownerCogName, New: newOwnerCog},
	}
}

// CogLoadPhase identifies when a cog was loaded
type CogLoadPhase string

const (
	// CogLoadSetup loads happen in Run, before the gateway is opened
	CogLoadSetup CogLoadPhase = "setup"

	// CogLoadReady loads happen on the first gateway ready event
	CogLoadReady CogLoadPhase = "ready"
)

// CogLoadResult is the outcome of loading one cog
type CogLoadResult struct {
	Name     string        `json:"name"`
	Phase    CogLoadPhase  `json:"phase"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Stack    string        `json:"-"`
	Duration time.Duration `json:"duration"`
	Commands []string      `json:"commands,omitempty"`
}

func (r CogLoadResult) OK() bool {
	return r.Err == nil
}

func (r CogLoadResult) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", r.Name),
		slog.String("phase", string(r.Phase)),
		slog.Duration("duration", r.Duration),
	}
	if len(r.Commands) > 0 {
		attrs = append(attrs, slog.Any("commands", r.Commands))
	}
	return slog.GroupValue(attrs...)
}

// CogLoadReport collects the results of one load phase
type CogLoadReport struct {
	Phase     CogLoadPhase    `json:"phase"`
	StartedAt time.Time       `json:"started_at"`
	Results   []CogLoadResult `json:"results"`
}

// Loaded returns the names of cogs which loaded successfully
func (r CogLoadReport) Loaded() []string {
	var rv []string
	for _, res := range r.Results {
		if res.OK() {
			rv = append(rv, res.Name)
		}
	}
	return rv
}

// Failed returns the results of cogs which failed to load
func (r CogLoadReport) Failed() []CogLoadResult {
	var rv []CogLoadResult
	for _, res := range r.Results {
		if !res.OK() {
			rv = append(rv, res)
		}
	}
	return rv
}

// Err joins the errors of every failed load
func (r CogLoadReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

func (r CogLoadReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("phase", string(r.Phase)),
		slog.Int("attempted", len(r.Results)),
		slog.Any("loaded", r.Loaded()),
		slog.Int("failed", len(r.Failed())),
	)
}

// cogLoader loads cogs from a registry into a commandSet. A failure to
// load one cog never prevents others from loading.
type cogLoader struct {
	bot      *OSPBot
	registry []CogRegistration
	commands *commandSet
	logger   *slog.Logger

	mu      sync.RWMutex
	loaded  map[string]Cog
	reports map[CogLoadPhase]CogLoadReport
}

func newCogLoader(
	bot *OSPBot,
	registry []CogRegistration,
	commands *commandSet,
	logger *slog.Logger,
) *cogLoader {
	return &cogLoader{
		bot:      bot,
		registry: registry,
		commands: commands,
		logger:   logger,
		loaded:   map[string]Cog{},
		reports:  map[CogLoadPhase]CogLoadReport{},
	}
}

// loadSetup loads every registered cog not named in delayed
func (l *cogLoader) loadSetup(delayed []string) CogLoadReport {
	names := make([]string, 0, len(l.registry))
	for _, reg := range l.registry {
		if slices.Contains(delayed, reg.Name) {
			l.logger.Info("delaying cog load until ready", "cog", reg.Name)
			continue
		}
		names = append(names, reg.Name)
	}
	return l.loadAll(CogLoadSetup, names)
}

// loadDelayed loads each cog named in delayed, in order
func (l *cogLoader) loadDelayed(delayed []string) CogLoadReport {
	return l.loadAll(CogLoadReady, delayed)
}

func (l *cogLoader) loadAll(phase CogLoadPhase, names []string) CogLoadReport {
	report := CogLoadReport{Phase: phase, StartedAt: time.Now().UTC()}
	for _, name := range names {
		res := l.load(phase, name)
		if res.OK() {
			l.logger.Info("successfully loaded cog", "cog", res)
		} else {
			l.logger.Error(
				"error loading cog",
				tint.Err(res.Err),
				"cog", res,
				"stack", res.Stack,
			)
		}
		report.Results = append(report.Results, res)
	}

	l.mu.Lock()
	l.reports[phase] = report
	l.mu.Unlock()

	l.logger.Info("cog load finished", "report", report)
	return report
}

func (l *cogLoader) constructor(name string) (CogConstructor, bool) {
	for _, reg := range l.registry {
		if reg.Name == name {
			return reg.New, true
		}
	}
	return nil, false
}

func (l *cogLoader) load(phase CogLoadPhase, name string) (res CogLoadResult) {
	res = CogLoadResult{Name: name, Phase: phase}
	start := time.Now()
	defer func() {
		if rc := recover(); rc != nil {
			res.Err = fmt.Errorf("panic loading cog %q: %v", name, rc)
			res.Stack = string(debug.Stack())
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	ctor, ok := l.constructor(name)
	if !ok {
		res.Err = fmt.Errorf("%w: %q", ErrUnknownCog, name)
		return res
	}

	l.mu.RLock()
	_, loaded := l.loaded[name]
	l.mu.RUnlock()
	if loaded {
		res.Err = fmt.Errorf("%w: %q", ErrCogAlreadyLoaded, name)
		return res
	}

	cog, err := ctor(l.bot)
	if err != nil {
		res.Err = fmt.Errorf("error creating cog %q: %w", name, err)
		return res
	}
	cmds := cog.Commands()
	if err = l.commands.add(name, cmds); err != nil {
		res.Err = fmt.Errorf("error registering commands for cog %q: %w", name, err)
		return res
	}

	l.mu.Lock()
	l.loaded[name] = cog
	l.mu.Unlock()

	for _, cmd := range cmds {
		res.Commands = append(res.Commands, cmd.Name)
	}
	return res
}

// Loaded returns the names of loaded cogs
func (l *cogLoader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rv := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		rv = append(rv, name)
	}
	slices.Sort(rv)
	return rv
}

// Reports returns the most recent report of each phase that has run,
// setup first
func (l *cogLoader) Reports() []CogLoadReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var rv []CogLoadReport
	for _, phase := range []CogLoadPhase{CogLoadSetup, CogLoadReady} {
		if r, ok := l.reports[phase]; ok {
			rv = append(rv, r)
		}
	}
	return rv
}
