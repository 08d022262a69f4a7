package app

import (
	"testing"
	"time"
)

func TestScoreBounds(t *testing.T) {
	limit := 30 * time.Second

	if got := Score(false, time.Second, limit); got != 0 {
		t.Fatalf("incorrect answer must score 0, got %d", got)
	}
	if got := Score(true, 0, limit); got != 1000 {
		t.Fatalf("instant answer must score 1000, got %d", got)
	}
	if got := Score(true, limit, limit); got != 100 {
		t.Fatalf("at the limit must score 100, got %d", got)
	}
	if got := Score(true, limit+time.Minute, limit); got != 100 {
		t.Fatalf("past the limit must still score 100, got %d", got)
	}
	if got := Score(true, -time.Second, limit); got != 1000 {
		t.Fatalf("negative elapsed must score 1000, got %d", got)
	}
	if got := Score(true, time.Second, 0); got != 1000 {
		t.Fatalf("unlimited question must score 1000, got %d", got)
	}
}

func TestScoreLinearDecay(t *testing.T) {
	limit := 20 * time.Second

	if got := Score(true, 10*time.Second, limit); got != 550 {
		t.Fatalf("halfway must score 550, got %d", got)
	}
	if got := Score(true, 5*time.Second, limit); got != 775 {
		t.Fatalf("quarter must score 775, got %d", got)
	}
}

func TestScoreMonotoneInTime(t *testing.T) {
	limit := 30 * time.Second
	prev := Score(true, 0, limit)
	for ms := int64(500); ms <= limit.Milliseconds(); ms += 500 {
		got := Score(true, time.Duration(ms)*time.Millisecond, limit)
		if got > prev {
			t.Fatalf("score increased from %d to %d at %dms", prev, got, ms)
		}
		prev = got
	}
}
