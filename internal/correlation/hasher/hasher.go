// Package hasher turns raw PII values into irreversible fingerprints.
//
// Two hashes per value, with different jobs:
//
//   - EntanglementID: SHA-256 over the normalized value with a per-type salt
//     and the service pepper. Cheap and deterministic, computed on every
//     detection and compared across large correlation sets.
//   - HashedValue: Argon2id over the same normalized value. Memory-hard so
//     that low-entropy PII (SSNs, phone numbers) resists offline brute force
//     if the store leaks without the pepper.
//
// Raw values enter this package and never leave it.
package hasher

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
)

// Argon2Params tunes the at-rest KDF. Defaults follow the RFC 9106
// second-recommended profile (64 MiB, 3 passes).
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params is the production profile.
var DefaultArgon2Params = Argon2Params{
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   2,
	KeyLength: 32,
}

// Config carries the secret material and KDF tuning for a Hasher.
type Config struct {
	// Pepper is the service-wide secret. Without it neither hash can be
	// recomputed, which is the whole defense against a storage-only leak.
	Pepper string

	// TypeSalts separate hash domains per PII type so an SSN and a phone
	// number that happen to normalize to the same digits still produce
	// different entanglement IDs. Not secret; defaults are fine.
	TypeSalts map[models.PIIType]string

	Argon2 Argon2Params
}

// defaultTypeSalts provides domain separation per PII type.
var defaultTypeSalts = map[models.PIIType]string{
	models.PIITypeSSN:        "pii:ssn:v1",
	models.PIITypeEmail:      "pii:email:v1",
	models.PIITypePhone:      "pii:phone:v1",
	models.PIITypeCreditCard: "pii:cc:v1",
	models.PIITypeAddress:    "pii:address:v1",
	models.PIITypeDOB:        "pii:dob:v1",
	models.PIITypeName:       "pii:name:v1",
	models.PIITypeIPAddress:  "pii:ip:v1",
}

const (
	minPepperLength = 16

	// entanglementIDLength keeps correlation keys shorter than the at-rest
	// hash while leaving 128 bits of the digest, plenty for equality.
	entanglementIDLength = 32
)

// Hasher produces deterministic, irreversible PII fingerprints.
type Hasher struct {
	cfg Config
}

// New validates the config and returns a ready Hasher.
func New(cfg Config) (*Hasher, error) {
	if len(cfg.Pepper) < minPepperLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "hash pepper must be at least 16 characters")
	}
	if cfg.TypeSalts == nil {
		cfg.TypeSalts = defaultTypeSalts
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params
	}
	return &Hasher{cfg: cfg}, nil
}

// Result is the pair of hashes for one PII value.
type Result struct {
	HashedValue    string
	EntanglementID id.EntanglementID
}

// Hash fingerprints a single PII value. The same (value, type, pepper)
// always yields the same result.
func (h *Hasher) Hash(value string, piiType models.PIIType) (Result, error) {
	salt, ok := h.cfg.TypeSalts[piiType]
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "no salt configured for PII type "+string(piiType))
	}

	normalized := Normalize(value, piiType)
	if normalized == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "PII value is empty after normalization")
	}

	return Result{
		HashedValue:    h.atRestHash(normalized, salt),
		EntanglementID: h.entanglementID(normalized, salt),
	}, nil
}

// HashDetections converts the upstream detection input into hashed matches.
// All-or-nothing: a single failure aborts the batch so no value can fall
// through to being stored unhashed.
func (h *Hasher) HashDetections(detections []models.DetectedPII) ([]models.HashedPIIMatch, error) {
	matches := make([]models.HashedPIIMatch, 0, len(detections))
	for i, det := range detections {
		if !det.Type.Valid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown PII type in detection input")
		}
		res, err := h.Hash(det.RawValue, det.Type)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeOf(err), "hash detection "+strconv.Itoa(i))
		}
		matches = append(matches, models.HashedPIIMatch{
			Type:            det.Type,
			HashedValue:     res.HashedValue,
			EntanglementID:  res.EntanglementID,
			Confidence:      clamp01(det.Confidence),
			DetectionMethod: det.DetectionMethod,
		})
	}
	return matches, nil
}

// entanglementID is the fast correlation key: salted SHA-256, truncated hex.
func (h *Hasher) entanglementID(normalized, salt string) id.EntanglementID {
	digest := sha256.New()
	digest.Write([]byte(salt))
	digest.Write([]byte{0x1f})
	digest.Write([]byte(normalized))
	digest.Write([]byte{0x1f})
	digest.Write([]byte(h.cfg.Pepper))
	sum := hex.EncodeToString(digest.Sum(nil))
	return id.EntanglementID(sum[:entanglementIDLength])
}

// atRestHash is the slow Argon2id hash for storage. The salt is derived, not
// random: reprocessing an identical document must produce an identical
// record, so both outputs have to be deterministic.
func (h *Hasher) atRestHash(normalized, salt string) string {
	saltDigest := sha256.Sum256([]byte("at-rest|" + salt + "|" + h.cfg.Pepper))
	kdfSalt := saltDigest[:16]

	key := argon2.IDKey(
		[]byte(normalized),
		kdfSalt,
		h.cfg.Argon2.Time,
		h.cfg.Argon2.MemoryKiB,
		h.cfg.Argon2.Threads,
		h.cfg.Argon2.KeyLength,
	)

	var b strings.Builder
	b.WriteString("argon2id$")
	b.WriteString(base64.RawStdEncoding.EncodeToString(kdfSalt))
	b.WriteString("$")
	b.WriteString(base64.RawStdEncoding.EncodeToString(key))
	return b.String()
}

// Normalize canonicalizes a raw value so trivial formatting differences do
// not break correlation: whitespace is trimmed everywhere, emails are
// case-folded, and digit-shaped types (SSN, phone, card) drop separator
// punctuation.
func Normalize(value string, piiType models.PIIType) string {
	v := strings.TrimSpace(value)
	switch piiType {
	case models.PIITypeEmail:
		return strings.ToLower(v)
	case models.PIITypeSSN, models.PIITypePhone, models.PIITypeCreditCard:
		return strings.Map(func(r rune) rune {
			switch r {
			case ' ', '-', '.', '(', ')':
				return -1
			}
			return r
		}, v)
	default:
		return v
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
