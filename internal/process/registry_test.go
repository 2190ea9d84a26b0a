package process

import (
	"testing"

	"github.com/fentz26/calmplan/internal/models"
)

func TestStepsFor_UnknownCategory(t *testing.T) {
	r := Default()

	if steps := r.StepsFor("no_such_category"); len(steps) != 0 {
		t.Errorf("Expected no steps for unknown category, got %d", len(steps))
	}
	if init := r.InitialSteps("no_such_category"); len(init) != 0 {
		t.Errorf("Expected empty initial steps, got %v", init)
	}
}

func TestInitialSteps_AllFalse(t *testing.T) {
	r := Default()

	init := r.InitialSteps(CategoryVATReport)
	if len(init) != len(r.StepsFor(CategoryVATReport)) {
		t.Fatalf("Expected %d steps, got %d", len(r.StepsFor(CategoryVATReport)), len(init))
	}
	for k, v := range init {
		if v {
			t.Errorf("Step %s should start incomplete", k)
		}
	}
}

func TestStepsFor_PreservesOrder(t *testing.T) {
	r := Default()

	keys := r.StepKeys(CategoryPayroll)
	want := []string{"receive_attendance", "prepare_payslips", "send_payslips", "bank_transfer"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := Default()

	tmpl, ok := r.Get(CategoryPayroll)
	if !ok {
		t.Fatal("payroll template missing")
	}
	tmpl.Steps[0].Key = "mutated"

	if r.StepKeys(CategoryPayroll)[0] == "mutated" {
		t.Error("Registry template was mutated through a returned copy")
	}
}

func TestToggleStep(t *testing.T) {
	current := models.ProcessSteps{"a": false, "legacy": true}

	next := ToggleStep(current, "a")
	if !next["a"] {
		t.Error("Expected a to be toggled on")
	}
	if !next["legacy"] {
		t.Error("Expected legacy step to be preserved")
	}
	if current["a"] {
		t.Error("ToggleStep must not mutate its input")
	}

	back := ToggleStep(next, "a")
	if back["a"] {
		t.Error("Expected a to be toggled off again")
	}
}

func TestToggleStep_NilMap(t *testing.T) {
	next := ToggleStep(nil, "x")
	if !next["x"] {
		t.Error("Expected x to be set on a nil checklist")
	}
}

func TestRegister_RejectsDuplicateSteps(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Template{
		Category: "dup",
		Steps:    []Step{{Key: "a"}, {Key: "a"}},
	})
	if err == nil {
		t.Error("Expected duplicate step keys to be rejected")
	}
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
}

func TestCategories_Sorted(t *testing.T) {
	cats := Default().Categories()
	for i := 1; i < len(cats); i++ {
		if cats[i-1].Category > cats[i].Category {
			t.Errorf("Categories not sorted: %s before %s", cats[i-1].Category, cats[i].Category)
		}
	}
	if Default().Label(CategoryVATReport) == CategoryVATReport {
		t.Error("Expected a display label for vat_report")
	}
	if Default().Label("unknown") != "unknown" {
		t.Error("Expected fallback label to be the key")
	}
}
