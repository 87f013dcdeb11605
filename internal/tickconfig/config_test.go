package tickconfig

import "testing"

func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() failed its own Validate: %v", err)
	}
}

func TestLoad_PartialDocumentOverridesOnlyMentionedFields(t *testing.T) {
	cfg, err := Load([]byte("max_activations: 5\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxActivations != 5 {
		t.Errorf("MaxActivations = %d, want 5", cfg.MaxActivations)
	}
	if cfg.MaxEffects != Default().MaxEffects {
		t.Errorf("MaxEffects = %d, want default %d", cfg.MaxEffects, Default().MaxEffects)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	if _, err := Load([]byte("totally_bogus_field: 1\n")); err == nil {
		t.Error("Load accepted an unknown field")
	}
}

func TestValidate_RejectsNonPositiveKillSwitch(t *testing.T) {
	cfg := Default()
	cfg.MaxEffects = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a zero MaxEffects")
	}

	cfg = Default()
	cfg.MaxRefiresPerRule = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a negative MaxRefiresPerRule")
	}
}
