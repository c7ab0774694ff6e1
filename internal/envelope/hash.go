package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed hashing.
// Version suffix enables future algorithm migration.
const (
	DomainPayload     = "tracefold/payload/v1"
	DomainFingerprint = "tracefold/fingerprint/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash computes the content hash of an envelope payload.
//
// The raw JSON is NFC-normalized at the hashing boundary and then
// canonicalized per RFC 8785, so two producers emitting the same logical
// payload with different key order, whitespace, or Unicode composition
// produce the same hash. This hash is the dedup identity for admission.
func PayloadHash(rawPayload []byte) (string, error) {
	canonical, err := CanonicalPayload(rawPayload)
	if err != nil {
		return "", err
	}
	return HashWithDomain(DomainPayload, canonical), nil
}

// CanonicalPayload returns the RFC 8785 canonical form of a raw JSON payload
// after NFC normalization. This is the ONLY serialization that should be
// used for content-addressed identity and for persisted candidate payloads.
func CanonicalPayload(rawPayload []byte) ([]byte, error) {
	normalized := norm.NFC.Bytes(rawPayload)
	canonical, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}
