package signal

import "fmt"

// Confidence is the ordinal trust tier attached to a signal by the scoring
// model upstream. The engine treats it as opaque beyond ordering: playbooks
// gate on a minimum tier, nothing else.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceVeryHigh
)

// confidenceNames maps tiers to their wire labels.
var confidenceNames = map[Confidence]string{
	ConfidenceLow:      "low",
	ConfidenceMedium:   "medium",
	ConfidenceHigh:     "high",
	ConfidenceVeryHigh: "very_high",
}

// String returns the wire label for the tier.
func (c Confidence) String() string {
	if name, ok := confidenceNames[c]; ok {
		return name
	}
	return fmt.Sprintf("confidence(%d)", int(c))
}

// AtLeast reports whether c meets the given minimum tier.
func (c Confidence) AtLeast(minimum Confidence) bool {
	return c >= minimum
}

// ParseConfidence maps a wire label to its tier. Unknown labels map to
// ConfidenceLow so that a misconfigured scorer can never satisfy a
// playbook's minimum by accident.
func ParseConfidence(s string) Confidence {
	for tier, name := range confidenceNames {
		if name == s {
			return tier
		}
	}
	return ConfidenceLow
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(data []byte) error {
	*c = ParseConfidence(string(data))
	return nil
}
