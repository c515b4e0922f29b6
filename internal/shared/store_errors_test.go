package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"sqlite busy", errors.New("exec: SQLITE_BUSY (5)"), true},
		{"sqlite locked", fmt.Errorf("upsert: %w", errors.New("database is locked")), true},
		{"pq serialization", fmt.Errorf("put: %w", &pq.Error{Code: "40001"}), true},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflictError(tt.err); got != tt.want {
				t.Errorf("IsConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
