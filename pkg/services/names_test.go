package services

import "testing"

func TestInferServerLanguage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"php uri", "https://backend/integration/showimage.php", "php"},
		{"aspx uri", "https://backend/integration/showimage.aspx", "aspx"},
		{"ruby mount", "https://backend/pluginengine/showimage", "ruby"},
		{"java default", "https://backend/integration/showimage", "java"},
		{"empty", "", "java"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferServerLanguage(tt.input); got != tt.want {
				t.Errorf("InferServerLanguage(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonical_FixedSet(t *testing.T) {
	names := Canonical()
	if len(names) != 5 {
		t.Fatalf("expected 5 canonical services, got %d", len(names))
	}
	if names[0] != Configuration || names[2] != ShowImage {
		t.Errorf("unexpected canonical order: %v", names)
	}
}
