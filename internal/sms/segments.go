package sms

const (
	// singleSegmentLimit is the maximum length of a message that fits in one
	// transport segment.
	singleSegmentLimit = 160
	// multipartSegmentSize is the per-segment capacity once concatenation
	// headers are in play.
	multipartSegmentSize = 153
)

// SplitSegments divides a message body into transport segments. Bodies within
// the single-segment limit are returned whole.
func SplitSegments(body string) []string {
	runes := []rune(body)
	if len(runes) <= singleSegmentLimit {
		return []string{body}
	}

	var parts []string
	for start := 0; start < len(runes); start += multipartSegmentSize {
		end := start + multipartSegmentSize
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

// SegmentCount returns the number of segments SplitSegments would produce.
// It must agree with the split actually used when sending.
func SegmentCount(body string) int {
	return len(SplitSegments(body))
}
