package sms

import (
	"strings"
	"testing"
)

func TestSplitSegmentsShortBody(t *testing.T) {
	body := strings.Repeat("a", 160)
	parts := SplitSegments(body)
	if len(parts) != 1 || parts[0] != body {
		t.Fatalf("expected single untouched segment, got %d", len(parts))
	}
}

func TestSplitSegmentsMultipart(t *testing.T) {
	body := strings.Repeat("a", 170)
	parts := SplitSegments(body)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != 153 || len(parts[1]) != 17 {
		t.Fatalf("unexpected part sizes: %d, %d", len(parts[0]), len(parts[1]))
	}
	if strings.Join(parts, "") != body {
		t.Fatal("reassembled parts differ from body")
	}
}

func TestSplitSegmentsCountsRunesNotBytes(t *testing.T) {
	// 160 multibyte runes still fit a single segment.
	body := strings.Repeat("é", 160)
	if parts := SplitSegments(body); len(parts) != 1 {
		t.Fatalf("expected 1 part for 160 runes, got %d", len(parts))
	}
}

func TestSegmentCountAgreesWithSplit(t *testing.T) {
	for _, n := range []int{0, 1, 159, 160, 161, 306, 307, 500} {
		body := strings.Repeat("x", n)
		if got, want := SegmentCount(body), len(SplitSegments(body)); got != want {
			t.Fatalf("len %d: SegmentCount=%d, split yields %d", n, got, want)
		}
	}
}
