package economy

import "testing"

func TestValidateItemKey(t *testing.T) {
	valid := []string{"iron_ore", "silk", "grain_2", "a1"}
	for _, k := range valid {
		if err := ValidateItemKey(k); err != nil {
			t.Fatalf("expected key %q to be valid: %v", k, err)
		}
	}

	invalid := []string{"", "a", "Iron", "1ore", "iron-ore", "iron ore", "_ore",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	for _, k := range invalid {
		if err := ValidateItemKey(k); err == nil {
			t.Fatalf("expected key %q to fail", k)
		}
	}
}

func TestValidLocation(t *testing.T) {
	for _, loc := range []Location{LocationWarehouse, LocationCaravan, LocationEscrow} {
		if !ValidLocation(loc) {
			t.Fatalf("expected location %q to be valid", loc)
		}
	}
	for _, loc := range []Location{"", "vault", "Warehouse"} {
		if ValidLocation(loc) {
			t.Fatalf("expected location %q to fail", loc)
		}
	}
}
