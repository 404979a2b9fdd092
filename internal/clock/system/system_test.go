package system

import (
	"testing"
	"time"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

var (
	_ snapshot.Clock = (*Clock)(nil)
	_ snapshot.Clock = Fixed{}
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestFixedNow(t *testing.T) {
	t.Parallel()

	at := time.Date(2023, 12, 25, 12, 5, 0, 0, time.UTC)
	clk := Fixed{At: at}
	if !clk.Now().Equal(at) || !clk.Now().Equal(clk.Now()) {
		t.Fatalf("expected fixed instant %v, got %v", at, clk.Now())
	}
}
