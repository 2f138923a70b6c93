package expiry

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name     string
		transfer store.Transfer
		expected bool
	}{
		{"unset", store.Transfer{}, false},
		{"past", store.Transfer{ExpiresAt: &past}, true},
		{"future", store.Transfer{ExpiresAt: &future}, false},
		{"exactly now", store.Transfer{ExpiresAt: &now}, false},
		{"flagged", store.Transfer{IsExpired: true}, true},
	}

	for _, tt := range tests {
		if got := IsExpired(tt.transfer, now); got != tt.expected {
			t.Errorf("%s: IsExpired = %v, want %v", tt.name, got, tt.expected)
		}
	}
}

func TestActive(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	transfers := []store.Transfer{
		{ID: 1, ExpiresAt: &past},
		{ID: 2, ExpiresAt: &future},
		{ID: 3},
	}

	active := Active(transfers, now)
	if len(active) != 2 {
		t.Fatalf("expected 2 active transfers, got %d", len(active))
	}
	if active[0].ID != 2 || active[1].ID != 3 {
		t.Errorf("unexpected active set: %d, %d", active[0].ID, active[1].ID)
	}
}

func TestMark(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	transfers := []store.Transfer{{ID: 1, ExpiresAt: &past}, {ID: 2}}
	marked := Mark(transfers, now)

	if !marked[0].IsExpired || marked[1].IsExpired {
		t.Errorf("unexpected flags: %v, %v", marked[0].IsExpired, marked[1].IsExpired)
	}
	if transfers[0].IsExpired {
		t.Error("Mark must not modify its input")
	}
}
