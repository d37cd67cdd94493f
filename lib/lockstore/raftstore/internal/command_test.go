package internal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Empty strings",
			command:  Command{Type: CommandTUpdateLock, Shared: 1, Exclusive: 2},
			expected: 1 + 6*8 + 3*4,
		},
		{
			name:     "Update locks",
			command:  Command{Type: CommandTUpdateLocks, Exclusive: 2, Token: "new", OldToken: "tx1"},
			expected: 1 + 6*8 + 3*4 + 3 + 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
			if n := len(tt.command.Serialize()); n != tt.expected {
				t.Errorf("len(Serialize()) = %v, want %v", n, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize checks that every field survives the log encoding,
// including negative numbers and non-ascii names.
func TestSerializeDeserialize(t *testing.T) {
	original := Command{
		Type:        CommandTCreateLock,
		NamespaceID: 7,
		Shared:      -1,
		Exclusive:   1 << 40,
		Version:     3,
		Start:       1700000000000,
		Expiry:      1700000060000,
		Name:        "päth/ü",
		Token:       "c0ffee",
		OldToken:    "",
	}

	var decoded Command
	if err := decoded.Deserialize(original.Serialize()); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

// TestDeserializeErrors tests Deserialize with invalid inputs
func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{Type: CommandTResolveNamespace, Name: "urn:a"}).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", valid[:commandHeaderSize]},
		{"truncated name", valid[:commandHeaderSize+4+2]},
		{"missing token length", valid[:commandHeaderSize+4+5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Command
			if err := c.Deserialize(tt.data); err == nil {
				t.Errorf("expected error for %d bytes", len(tt.data))
			}
		})
	}
}
