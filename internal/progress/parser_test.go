package progress

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPercent int
		wantHas     bool
		wantMessage string
	}{
		{"leading percent", "10% parsing", 10, true, "10% parsing"},
		{"done line", "100% done", 100, true, "100% done"},
		{"embedded percent", "progress: 42% through mailbox", 42, true, "progress: 42% through mailbox"},
		{"spaced percent", "75 % analyzed", 75, true, "75 % analyzed"},
		{"plain log line", "connecting to mail source", 0, false, "connecting to mail source"},
		{"empty line", "", 0, false, ""},
		{"over one hundred clamps", "999% overdrive", 100, true, "999% overdrive"},
		{"percent sign alone", "discount % applied", 0, false, "discount % applied"},
		{"whitespace trimmed", "  50% halfway  ", 50, true, "50% halfway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Parse("ideas", tt.line)

			if ev.HasPercent != tt.wantHas {
				t.Errorf("HasPercent = %v, want %v", ev.HasPercent, tt.wantHas)
			}
			if ev.HasPercent && ev.Percent != tt.wantPercent {
				t.Errorf("Percent = %d, want %d", ev.Percent, tt.wantPercent)
			}
			if ev.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", ev.Message, tt.wantMessage)
			}
			if ev.Stage != "ideas" {
				t.Errorf("Stage = %q, want %q", ev.Stage, "ideas")
			}
		})
	}
}

func TestParse_NeverErrors(t *testing.T) {
	// Garbage input must degrade to a message-only event, never panic.
	lines := []string{
		"\x00\x01 binary junk %",
		"%%%%",
		"12345678901234567890% overflow-looking",
	}
	for _, line := range lines {
		ev := Parse("docs", line)
		if ev.Stage != "docs" {
			t.Errorf("Stage = %q, want %q", ev.Stage, "docs")
		}
	}
}
