// Package watcher provides the sensitivity/watching bookkeeping shared by
// every VCD watcher (component B's observer side) plus the single-tracker
// lifecycle each watcher owns (component C). Concrete watchers embed Base
// and add their own Update behavior.
package watcher

import (
	"errors"
	"fmt"

	"zappem.net/pub/jtag/jtagtrace/tracker"
)

// ErrUnresolvedSignal is returned by ResolveIDs when a named signal was
// never declared in the source VCD's definitions.
var ErrUnresolvedSignal = errors.New("signal name not found in VCD definitions")

// Base carries the hierarchy prefix, the sensitive/watching name sets, the
// ids those names resolve to once the source VCD's definitions are fully
// parsed, and this watcher's tracker lifecycle.
type Base struct {
	hierarchy string
	sensitive []string
	watching  []string
	ids       map[string]string

	// Trackers manages this watcher's single admitted tracker.
	Trackers tracker.Manager
}

// SetHierarchy records the scope prefix under which this watcher's signal
// names are resolved.
func (b *Base) SetHierarchy(name string) { b.hierarchy = name }

// Hierarchy reports the configured scope prefix.
func (b *Base) Hierarchy() string { return b.hierarchy }

// AddSensitive registers name as a firing trigger: the watcher's Update is
// invoked whenever this signal changes.
func (b *Base) AddSensitive(name string) { b.sensitive = append(b.sensitive, name) }

// AddWatching registers name as a signal whose current value must be
// available (but need not itself trigger firing) when Update runs.
func (b *Base) AddWatching(name string) { b.watching = append(b.watching, name) }

// SensitiveNames reports the registered firing triggers.
func (b *Base) SensitiveNames() []string { return b.sensitive }

// WatchingNames reports the registered watched-but-not-triggering names.
func (b *Base) WatchingNames() []string { return b.watching }

// ResolveIDs resolves every sensitive and watching name, prefixed with the
// configured hierarchy, to its VCD id via lookup. Called once, after the
// source VCD's definitions section has been fully parsed.
func (b *Base) ResolveIDs(lookup func(fullName string) (string, bool)) error {
	b.ids = make(map[string]string, len(b.sensitive)+len(b.watching))
	names := make([]string, 0, len(b.sensitive)+len(b.watching))
	names = append(names, b.sensitive...)
	names = append(names, b.watching...)
	for _, name := range names {
		full := name
		if b.hierarchy != "" {
			full = b.hierarchy + "." + name
		}
		id, ok := lookup(full)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvedSignal, full)
		}
		b.ids[name] = id
	}
	return nil
}

// ID returns the VCD id that the named signal resolved to. Empty if
// ResolveIDs has not been called or name was never registered.
func (b *Base) ID(name string) string { return b.ids[name] }

// SensitiveIDs returns the resolved ids of the registered firing triggers,
// valid once ResolveIDs has run. The event engine uses this to decide
// whether to fire this watcher at all, ahead of any business-logic
// filtering (e.g. rising-edge-only) the watcher itself performs.
func (b *Base) SensitiveIDs() []string {
	ids := make([]string, 0, len(b.sensitive))
	for _, name := range b.sensitive {
		ids = append(ids, b.ids[name])
	}
	return ids
}
