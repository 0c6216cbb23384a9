package store

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fingerprintHexLen is the number of hex characters kept from the digest.
// 16 chars = 64 bits, enough at notification volume while keeping keys short.
const fingerprintHexLen = 16

// Fingerprint computes the deduplication id for an inbound item: a truncated
// SHA-256 over the stable per-source key and the origin timestamp. The origin
// timestamp (not wall-clock capture time) keeps retried captures of the same
// notification idempotent.
func Fingerprint(sourceKey string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(sourceKey))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	return fmt.Sprintf("%x", h.Sum(nil))[:fingerprintHexLen]
}

// ItemFingerprint derives the fingerprint for it. When the origin provided no
// clean per-source key, a composite of source and display fields stands in so
// the result is still deterministic — never random.
func ItemFingerprint(it *InboundItem, sourceKey string) string {
	if strings.TrimSpace(sourceKey) == "" {
		sourceKey = strings.Join([]string{it.Source, it.Title, it.Body}, "\x00")
	}
	return Fingerprint(sourceKey, it.Timestamp)
}
