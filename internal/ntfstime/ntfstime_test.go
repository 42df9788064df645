package ntfstime

import (
	"testing"
	"time"
)

func TestZeroRoundTrip(t *testing.T) {
	if got := Zero.Time(); !got.IsZero() {
		t.Fatalf("Zero.Time() = %v, want zero time.Time", got)
	}
	if got := FromTime(time.Time{}); got != Zero {
		t.Fatalf("FromTime(zero) = %v, want Zero", got)
	}
}

func TestRoundTrip(t *testing.T) {
	want := time.Date(2021, 6, 15, 12, 30, 0, 0, time.UTC)
	ft := FromTime(want)
	got := ft.Time()
	if !got.Equal(want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func TestKnownEpoch(t *testing.T) {
	// 1601-01-01 is FILETIME zero offset by epochDelta; converting the
	// Unix epoch should yield exactly epochDelta.
	if got := FromTime(time.Unix(0, 0).UTC()); got != FileTime(epochDelta) {
		t.Fatalf("FromTime(unix epoch) = %d, want %d", got, epochDelta)
	}
}
