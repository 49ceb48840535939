package domain

import "strings"

// Source represents the upstream a price series was loaded from.
type Source string

const (
	// SourceChainlink is the oracle round feed, stored as raw points scaled by 1e8.
	SourceChainlink Source = "chainlink"
	// SourceFast is the keeper "fast price" candle feed, scaled by 1e30.
	SourceFast Source = "fast"
)

// ParseSource returns the source for an API value. ok is false for unknown values.
func ParseSource(s string) (Source, bool) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	return src, src.IsValid()
}

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	return s == SourceChainlink || s == SourceFast
}

// Other returns the fallback source.
func (s Source) Other() Source {
	if s == SourceFast {
		return SourceChainlink
	}
	return SourceFast
}

// Scale returns the number of fixed-point decimals used by the source.
func (s Source) Scale() int32 {
	if s == SourceChainlink {
		return 8
	}
	return 30
}
