package participant

import (
	"testing"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

func testParticipant(id, name string) Participant {
	return Participant{
		ID:   id,
		Name: name,
		Kind: KindPlayer,
		Dice: 2,
		Presence: map[plane.Plane]bool{
			plane.Physical: true,
		},
	}
}

func TestAdd_AssignsAndRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()

	id, err := registry.Add(testParticipant("p-1", "Viper"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id != "p-1" {
		t.Fatalf("id = %q, want p-1", id)
	}

	_, err = registry.Add(testParticipant("p-1", "Ghost"))
	if errors.CodeOf(err) != errors.CodeParticipantExists {
		t.Fatalf("duplicate add code = %q, want %q", errors.CodeOf(err), errors.CodeParticipantExists)
	}
}

func TestAdd_ValidatesNameAndKind(t *testing.T) {
	registry := NewRegistry()

	p := testParticipant("p-1", "  ")
	if _, err := registry.Add(p); errors.CodeOf(err) != errors.CodeParticipantNameEmpty {
		t.Fatalf("empty name code = %q, want %q", errors.CodeOf(err), errors.CodeParticipantNameEmpty)
	}

	p = testParticipant("p-1", "Viper")
	p.Kind = Kind("spirit-animal")
	if _, err := registry.Add(p); errors.CodeOf(err) != errors.CodeParticipantInvalidKind {
		t.Fatalf("invalid kind code = %q, want %q", errors.CodeOf(err), errors.CodeParticipantInvalidKind)
	}
}

func TestRemove_UnknownIsNotFound(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Remove("ghost"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("remove code = %q, want %q", errors.CodeOf(err), errors.CodeNotFound)
	}
}

func TestUpdate_LastWriterWinsPerField(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}

	score := 12
	if err := registry.Update("p-1", Mutation{Score: &score}); err != nil {
		t.Fatalf("update score: %v", err)
	}
	name := "Razor"
	if err := registry.Update("p-1", Mutation{Name: &name}); err != nil {
		t.Fatalf("update name: %v", err)
	}

	got, err := registry.Get("p-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Score != 12 || got.Name != "Razor" || got.Kind != KindPlayer {
		t.Fatalf("unexpected participant after updates: %+v", got)
	}
}

func TestGet_ReturnsSnapshotCopy(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}

	snapshot, err := registry.Get("p-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	snapshot.Presence[plane.Matrix] = true
	snapshot.Conditions = append(snapshot.Conditions, Condition{Name: "dazed"})

	fresh, err := registry.Get("p-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if fresh.PresentIn(plane.Matrix) {
		t.Fatal("mutating a snapshot leaked into the roster")
	}
	if len(fresh.Conditions) != 0 {
		t.Fatal("mutating snapshot conditions leaked into the roster")
	}
}

func TestSetPresence(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := registry.SetPresence("p-1", plane.Astral, true); err != nil {
		t.Fatalf("set presence: %v", err)
	}
	got, _ := registry.Get("p-1")
	if !got.PresentIn(plane.Astral) {
		t.Fatal("expected astral presence")
	}
	if err := registry.SetPresence("p-1", plane.Astral, false); err != nil {
		t.Fatalf("clear presence: %v", err)
	}
	got, _ = registry.Get("p-1")
	if got.PresentIn(plane.Astral) {
		t.Fatal("expected astral presence cleared")
	}
}

func TestAddCondition_ReplacesByName(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := registry.AddCondition("p-1", Condition{Name: "wounded", Modifier: -1}); err != nil {
		t.Fatalf("add condition: %v", err)
	}
	if err := registry.AddCondition("p-1", Condition{Name: "wounded", Modifier: -2, ExpiresRound: 3}); err != nil {
		t.Fatalf("replace condition: %v", err)
	}
	got, _ := registry.Get("p-1")
	if len(got.Conditions) != 1 {
		t.Fatalf("conditions = %d, want 1", len(got.Conditions))
	}
	if got.ConditionModifier() != -2 {
		t.Fatalf("modifier = %d, want -2", got.ConditionModifier())
	}
}

func TestExpireConditions(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := registry.Add(testParticipant("p-2", "Ghost")); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = registry.AddCondition("p-1", Condition{Name: "suppressed", ExpiresRound: 1})
	_ = registry.AddCondition("p-1", Condition{Name: "wounded"})
	_ = registry.AddCondition("p-2", Condition{Name: "dazed", ExpiresRound: 2})

	expired := registry.ExpireConditions(2)
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if expired[0].ParticipantID != "p-1" || expired[0].Name != "suppressed" {
		t.Fatalf("unexpected expiry: %+v", expired[0])
	}

	expired = registry.ExpireConditions(3)
	if len(expired) != 1 || expired[0].Name != "dazed" {
		t.Fatalf("unexpected second expiry: %+v", expired)
	}

	got, _ := registry.Get("p-1")
	if len(got.Conditions) != 1 || got.Conditions[0].Name != "wounded" {
		t.Fatalf("expected permanent condition to survive, got %+v", got.Conditions)
	}
}

func TestClone_IsIndependent(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Add(testParticipant("p-1", "Viper")); err != nil {
		t.Fatalf("add: %v", err)
	}

	clone := registry.Clone()
	if err := clone.Remove("p-1"); err != nil {
		t.Fatalf("remove on clone: %v", err)
	}
	if !registry.Has("p-1") {
		t.Fatal("removing from a clone mutated the original")
	}
}

func TestList_StableOrder(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"p-3", "p-1", "p-2"} {
		if _, err := registry.Add(testParticipant(id, "Runner "+id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("list = %d, want 3", len(list))
	}
	for i, want := range []string{"p-1", "p-2", "p-3"} {
		if list[i].ID != want {
			t.Fatalf("list[%d] = %s, want %s", i, list[i].ID, want)
		}
	}
}
