package watcher

import "testing"

func TestResolveIDsPrefixesHierarchy(t *testing.T) {
	var b Base
	b.SetHierarchy("capture")
	b.AddSensitive("tck")
	b.AddWatching("tms")

	names := map[string]string{
		"capture.tck": "!",
		"capture.tms": "\"",
	}
	lookup := func(full string) (string, bool) {
		id, ok := names[full]
		return id, ok
	}

	if err := b.ResolveIDs(lookup); err != nil {
		t.Fatalf("ResolveIDs: %v", err)
	}
	if got := b.ID("tck"); got != "!" {
		t.Errorf("ID(tck) = %q, want \"!\"", got)
	}
	if got := b.ID("tms"); got != "\"" {
		t.Errorf("ID(tms) = %q, want %q", got, "\"")
	}
	if got := b.SensitiveIDs(); len(got) != 1 || got[0] != "!" {
		t.Errorf("SensitiveIDs() = %v, want [!]", got)
	}
}

func TestResolveIDsNoHierarchy(t *testing.T) {
	var b Base
	b.AddSensitive("clk")
	lookup := func(full string) (string, bool) {
		if full == "clk" {
			return "#", true
		}
		return "", false
	}
	if err := b.ResolveIDs(lookup); err != nil {
		t.Fatalf("ResolveIDs: %v", err)
	}
	if got := b.ID("clk"); got != "#" {
		t.Errorf("ID(clk) = %q, want #", got)
	}
}

func TestResolveIDsUnresolvedSignal(t *testing.T) {
	var b Base
	b.AddSensitive("missing")
	lookup := func(string) (string, bool) { return "", false }
	err := b.ResolveIDs(lookup)
	if err == nil {
		t.Fatal("ResolveIDs: want error for unresolved signal, got nil")
	}
}

func TestSensitiveAndWatchingNames(t *testing.T) {
	var b Base
	b.AddSensitive("tck")
	b.AddWatching("tms")
	b.AddWatching("tdi")

	if got := b.SensitiveNames(); len(got) != 1 || got[0] != "tck" {
		t.Errorf("SensitiveNames() = %v, want [tck]", got)
	}
	if got := b.WatchingNames(); len(got) != 2 {
		t.Errorf("WatchingNames() = %v, want 2 entries", got)
	}
}
