package semver

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"full version", "7.24.1", "7.24.1", false},
		{"leading v", "v7.24.1", "7.24.1", false},
		{"major only", "7", "7.0.0", false},
		{"major minor", "7.2", "7.2.0", false},
		{"whitespace", " 7.24.1 ", "7.24.1", false},
		{"empty", "", "", true},
		{"garbage", "not-a-version", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		want       bool
		wantErr    bool
	}{
		{"meets minimum", "7.24.1", ">=7.0.0", true, false},
		{"below minimum", "6.9.0", ">=7.0.0", false, false},
		{"caret match", "7.5.0", "^7.2", true, false},
		{"caret major mismatch", "8.0.0", "^7.2", false, false},
		{"leading v version", "v7.1.0", ">=7.0.0", true, false},
		{"bad version", "nope", ">=7.0.0", false, true},
		{"bad constraint", "7.0.0", "???", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Satisfies(tt.version, tt.constraint)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Satisfies(%q, %q) expected error", tt.version, tt.constraint)
				}
				return
			}
			if err != nil {
				t.Fatalf("Satisfies(%q, %q) unexpected error: %v", tt.version, tt.constraint, err)
			}
			if got != tt.want {
				t.Errorf("Satisfies(%q, %q) = %v, want %v", tt.version, tt.constraint, got, tt.want)
			}
		})
	}
}
