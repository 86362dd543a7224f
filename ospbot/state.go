package ospbot

import (
	"log/slog"
	"sync/atomic"
)

// State holds the bot's mutable runtime flags. Gateway events are
// handled on separate goroutines, so each flag is atomic and only
// changed through the setters below.
type State struct {
	maintenance atomic.Bool
	noPrefix    atomic.Bool
	started     atomic.Bool
}

func NewState() *State {
	return &State{}
}

// Maintenance reports whether maintenance mode is enabled. While enabled,
// only messages from owners are routed to commands.
func (s *State) Maintenance() bool {
	return s.maintenance.Load()
}

// SetMaintenance enables or disables maintenance mode, returning the
// previous value
func (s *State) SetMaintenance(enabled bool) bool {
	return s.maintenance.Swap(enabled)
}

// NoPrefix reports whether owners may run commands without a prefix
func (s *State) NoPrefix() bool {
	return s.noPrefix.Load()
}

// SetNoPrefix enables or disables no-prefix mode, returning the
// previous value
func (s *State) SetNoPrefix(enabled bool) bool {
	return s.noPrefix.Swap(enabled)
}

// Started reports whether the first ready event has been handled
func (s *State) Started() bool {
	return s.started.Load()
}

// MarkStarted sets the started flag. It returns true only for the call
// which changed it, so reconnects can't repeat first-ready work.
func (s *State) MarkStarted() bool {
	return s.started.CompareAndSwap(false, true)
}

// StateSnapshot is a point-in-time copy of State
type StateSnapshot struct {
	Maintenance bool `json:"maintenance"`
	NoPrefix    bool `json:"no_prefix"`
	Started     bool `json:"started"`
}

func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		Maintenance: s.Maintenance(),
		NoPrefix:    s.NoPrefix(),
		Started:     s.Started(),
	}
}

func (s StateSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("maintenance", s.Maintenance),
		slog.Bool("no_prefix", s.NoPrefix),
		slog.Bool("started", s.Started),
	)
}
