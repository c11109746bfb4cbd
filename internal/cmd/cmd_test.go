package cmd

import (
	"testing"

	"github.com/saltyhash/docpipe/internal/topic"
)

func TestParseSelection(t *testing.T) {
	topics := []topic.Topic{{ID: 0}, {ID: 1}, {ID: 2}}

	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{"all", "all", []int{0, 1, 2}, false},
		{"single", "1", []int{1}, false},
		{"csv", "0,2", []int{0, 2}, false},
		{"csv with spaces", "2, 0", []int{2, 0}, false},
		{"garbage", "0,two", nil, true},
		{"empty", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelection(tt.spec, topics)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSelection(%q) should fail", tt.spec)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSelection(%q) failed: %v", tt.spec, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRootCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "example-config"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}
