package cmd

import (
	"strings"
	"testing"

	"github.com/man-iishkr/RupX/internal/identity"
)

func TestParseIdentityFile(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    bool
		wantCount  int
		wantImages int
	}{
		{
			name: "yaml",
			input: `identities:
  - name: alice
    embedding: [1, 0, 0]
  - name: bob
    embedding: [0, 1, 0]
images_processed: 12
`,
			wantCount:  2,
			wantImages: 12,
		},
		{
			name:      "json",
			input:     `{"identities": [{"name": "alice", "embedding": [0.5, 0.5]}]}`,
			wantCount: 1,
		},
		{
			name:    "empty",
			input:   `identities: []`,
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   `identities: [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseIdentityFile([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				return
			}
			if len(f.Identities) != tt.wantCount {
				t.Errorf("expected %d identities, got %d", tt.wantCount, len(f.Identities))
			}
			if f.ImagesProcessed != tt.wantImages {
				t.Errorf("expected %d images, got %d", tt.wantImages, f.ImagesProcessed)
			}
		})
	}
}

func TestCheckVectors(t *testing.T) {
	nan := float32(0)
	nan /= nan

	tests := []struct {
		name    string
		vectors []identity.Vector
		dim     int
		wantErr string
	}{
		{
			name:    "consistent length",
			vectors: []identity.Vector{{Name: "a", Values: []float32{1, 0}}, {Name: "b", Values: []float32{0, 1}}},
		},
		{
			name:    "configured dimension",
			vectors: []identity.Vector{{Name: "a", Values: []float32{1, 0}}},
			dim:     3,
			wantErr: "expected 3",
		},
		{
			name:    "mixed lengths",
			vectors: []identity.Vector{{Name: "a", Values: []float32{1, 0}}, {Name: "b", Values: []float32{1}}},
			wantErr: `identity "b"`,
		},
		{
			name:    "non-finite",
			vectors: []identity.Vector{{Name: "a", Values: []float32{nan, 0}}},
			wantErr: "non-finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVectors(tt.vectors, tt.dim, nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Present"}, [][]string{{"alice", "3"}, {"bob"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Name", "Present", "alice", "bob"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}
