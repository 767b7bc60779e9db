package model

import (
	"testing"
	"time"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price    uint64
		decimals int32
		want     string
	}{
		{12345, 2, "123.45"},
		{0, 8, "0.00000000"},
		{250000000000, 8, "2500.00000000"},
		{18446744073709551615, 8, "184467440737.09551615"},
		{7, 0, "7"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.price, tt.decimals); got != tt.want {
			t.Errorf("FormatPrice(%d, %d) = %q, want %q", tt.price, tt.decimals, got, tt.want)
		}
	}
}

func TestPriceEntryAge(t *testing.T) {
	e := PriceEntry{Price: 100, RecordedAt: 1000}
	now := time.Unix(4600, 0)
	if age := e.AgeAt(now); age != 3600 {
		t.Errorf("AgeAt = %d, want 3600", age)
	}
	if !e.Time().Equal(time.Unix(1000, 0)) {
		t.Errorf("Time() = %v", e.Time())
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Keeper "); !ok || r != RoleKeeper {
		t.Errorf("ParseRole(keeper) = %q, %v", r, ok)
	}
	if r, ok := ParseRole("ADMIN"); !ok || r != RoleAdmin {
		t.Errorf("ParseRole(admin) = %q, %v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Error("ParseRole(owner) should fail")
	}
}

func TestPriceEntryStaleAt(t *testing.T) {
	e := PriceEntry{Price: 100, RecordedAt: 0}

	if e.StaleAt(time.Unix(3600, 0), 3600) {
		t.Error("age == heartbeat should be fresh")
	}
	if !e.StaleAt(time.Unix(3601, 0), 3600) {
		t.Error("age == heartbeat+1 should be stale")
	}
	if e.StaleAt(time.Unix(0, 0), 0) {
		t.Error("zero heartbeat within the same second should be fresh")
	}
	if !e.StaleAt(time.Unix(1, 0), 0) {
		t.Error("zero heartbeat one second later should be stale")
	}
	if (PriceEntry{RecordedAt: 100}).StaleAt(time.Unix(50, 0), 0) {
		t.Error("entry from the future should not be stale")
	}
}
