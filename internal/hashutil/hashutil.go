// Package hashutil provides the deterministic hashing and canonical-time
// primitives every other package builds its stable identifiers on (spec
// §4.A). Every function here is a pure function of its input bytes: no
// locale, timezone-of-the-host, or platform state may leak in.
package hashutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// SHA256Hex returns the lowercase 64-character hex SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashToUint32 interprets the first 4 bytes of a hex digest (as produced by
// SHA256Hex) as a big-endian uint32. hex must be at least 8 hex characters.
func HashToUint32(hexDigest string) uint32 {
	raw, err := hex.DecodeString(hexDigest[:8])
	if err != nil {
		// hexDigest is always produced by SHA256Hex in practice; a decode
		// failure here means a caller passed a non-hex string.
		panic("hashutil: HashToUint32 called with non-hex input: " + err.Error())
	}
	return binary.BigEndian.Uint32(raw)
}

// CanonicalTimestampLayout is the exact layout used by CanonicalTimestamp:
// "YYYY-MM-DDTHH:MM:SS.sssZ".
const CanonicalTimestampLayout = "2006-01-02T15:04:05.000Z"

// CanonicalTimestamp renders instant in UTC using the canonical
// millisecond-precision RFC-3339 form the spec mandates everywhere a
// timestamp is persisted or rendered.
func CanonicalTimestamp(instant time.Time) string {
	return instant.UTC().Format(CanonicalTimestampLayout)
}

// ExtractDayDate returns the calendar date ("YYYY-MM-DD") instant falls on
// when viewed in ianaTZ. An invalid ianaTZ falls back to UTC rather than
// erroring, since day-bucketing must never fail ingest outright — batch
// creation validates the timezone name up front instead.
func ExtractDayDate(instant time.Time, ianaTZ string) string {
	loc, err := time.LoadLocation(ianaTZ)
	if err != nil {
		loc = time.UTC
	}
	return instant.In(loc).Format("2006-01-02")
}
