// Package idhash derives deterministic identifiers from record contents.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"dex-analytics/internal/domain"
)

// ComputePricePointID computes an id for a price record the upstream did not identify.
// Formula: SHA256(token|period|source|timestamp)
// Returns hex-encoded hash (64 characters).
func ComputePricePointID(token string, period domain.Period, source domain.Source, timestamp int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		domain.NormalizeAddress(token),
		period,
		source,
		timestamp,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeRevisionID identifies one published state of a series tail.
// Publishing an unchanged tail twice yields the same id.
// Formula: SHA256(key|t|o|h|l|c)
func ComputeRevisionID(key domain.SeriesKey, c domain.Candle) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%s|%s",
		key,
		c.T,
		strconv.FormatFloat(c.O, 'g', -1, 64),
		strconv.FormatFloat(c.H, 'g', -1, 64),
		strconv.FormatFloat(c.L, 'g', -1, 64),
		strconv.FormatFloat(c.C, 'g', -1, 64),
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
