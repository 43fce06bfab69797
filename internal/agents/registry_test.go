package agents

import (
	"os"
	"path/filepath"
	"testing"

	"clawlegion/internal/domain"
)

func TestDefaultRosterLookups(t *testing.T) {
	r := Default()
	if len(r.All()) == 0 {
		t.Fatalf("expected built-in agents")
	}
	a, ok := r.ByID("SCOUT")
	if !ok || a.Name != "Scout" {
		t.Fatalf("lookup by id should ignore case, got %+v ok=%v", a, ok)
	}
	a, ok = r.ByName("sentinel")
	if !ok || a.ID != "sentinel" {
		t.Fatalf("lookup by name failed: %+v", a)
	}
	for _, c := range r.Council() {
		if c.Tier != domain.TierCouncil {
			t.Fatalf("council contains %s with tier %s", c.ID, c.Tier)
		}
	}
	if b, ok := r.ByRole(domain.RoleBuilder); !ok || b.ID != "forge" {
		t.Fatalf("expected forge as builder, got %+v", b)
	}
}

func TestResolveUnknownFallsBack(t *testing.T) {
	r := Default()
	a := r.Resolve("ghost-bot")
	if !a.Fallback {
		t.Fatalf("expected fallback agent")
	}
	if a.ID != "ghost-bot" || a.Color != FallbackColor || a.Avatar != FallbackAvatar || a.Emoji != FallbackEmoji {
		t.Fatalf("unexpected fallback: %+v", a)
	}
	if got := r.Resolve(""); got.ID != "unknown" {
		t.Fatalf("empty id fallback = %q", got.ID)
	}
}

func TestRegistryIsNotMutatedThroughResults(t *testing.T) {
	r := Default()
	a, _ := r.ByID("forge")
	a.Capabilities[0] = "hacked"
	a.Name = "Changed"
	again, _ := r.ByID("forge")
	if again.Name != "Forge" || again.Capabilities[0] == "hacked" {
		t.Fatalf("registry leaked mutable state: %+v", again)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]domain.Agent{{ID: "a"}, {ID: "A"}})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := New([]domain.Agent{{Name: "nameless"}}); err == nil {
		t.Fatalf("expected empty id error")
	}
}

func TestLoadRosterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yml")
	data := []byte("agents:\n  - id: solo\n    name: Solo\n    role: builder\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, ok := r.ByID("solo")
	if !ok || a.Tier != domain.TierArmy {
		t.Fatalf("expected default army tier, got %+v", a)
	}
	if _, err := Parse([]byte("agents: []")); err == nil {
		t.Fatalf("expected empty roster error")
	}
}
