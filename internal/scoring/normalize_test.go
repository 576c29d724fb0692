package scoring

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase", "KHK", "khk"},
		{"umlauts", "Aszites über Lösung", "aszites ueber loesung"},
		{"eszett", "große Blutung", "grosse blutung"},
		{"accents", "café naïve", "cafe naive"},
		{"punctuation stripped", "Sono: (Abdomen)!", "sono abdomen"},
		{"medical symbols kept", "NaCl 0.9% + 5 mg/kg", "nacl 0.9% + 5 mg/kg"},
		{"whitespace collapsed", "  a \t b \n c  ", "a b c"},
		{"only punctuation", "?!،؛", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Ich denke an eine KHK",
		"Aszites über Lösung",
		"NaCl 0.9% über 24h",
		"Müller-Weiß-Syndrom",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalizeFoldsAllUmlauts(t *testing.T) {
	got := Normalize("Ärzte hören Übermaß")
	for _, bad := range []string{"ä", "ö", "ü", "ß"} {
		if strings.Contains(got, bad) {
			t.Errorf("Normalize output %q still contains %q", got, bad)
		}
	}
	for _, want := range []string{"aerzte", "hoeren", "uebermass"} {
		if !strings.Contains(got, want) {
			t.Errorf("Normalize output %q missing %q", got, want)
		}
	}
}
