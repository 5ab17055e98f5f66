package hasher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
)

const testPepper = "test-pepper-0123456789abcdef"

// testArgon2Params keeps unit tests fast; production uses DefaultArgon2Params.
var testArgon2Params = Argon2Params{
	Time:      1,
	MemoryKiB: 8 * 1024,
	Threads:   1,
	KeyLength: 32,
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(Config{Pepper: testPepper, Argon2: testArgon2Params})
	require.NoError(t, err)
	return h
}

func TestNew(t *testing.T) {
	t.Run("rejects short pepper", func(t *testing.T) {
		_, err := New(Config{Pepper: "too-short"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("applies defaults", func(t *testing.T) {
		h, err := New(Config{Pepper: testPepper})
		require.NoError(t, err)
		assert.Equal(t, DefaultArgon2Params, h.cfg.Argon2)
		assert.NotEmpty(t, h.cfg.TypeSalts)
	})
}

func TestHashDeterminism(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Hash("123-45-6789", models.PIITypeSSN)
	require.NoError(t, err)
	second, err := h.Hash("123-45-6789", models.PIITypeSSN)
	require.NoError(t, err)

	assert.Equal(t, first.EntanglementID, second.EntanglementID)
	assert.Equal(t, first.HashedValue, second.HashedValue)
}

func TestHashNormalization(t *testing.T) {
	h := newTestHasher(t)

	t.Run("ssn formatting variants collide", func(t *testing.T) {
		dashed, err := h.Hash("123-45-6789", models.PIITypeSSN)
		require.NoError(t, err)
		plain, err := h.Hash("123456789", models.PIITypeSSN)
		require.NoError(t, err)
		spaced, err := h.Hash(" 123 45 6789 ", models.PIITypeSSN)
		require.NoError(t, err)

		assert.Equal(t, dashed.EntanglementID, plain.EntanglementID)
		assert.Equal(t, dashed.EntanglementID, spaced.EntanglementID)
	})

	t.Run("emails are case folded", func(t *testing.T) {
		upper, err := h.Hash("Alice@Example.COM", models.PIITypeEmail)
		require.NoError(t, err)
		lower, err := h.Hash("alice@example.com", models.PIITypeEmail)
		require.NoError(t, err)

		assert.Equal(t, upper.EntanglementID, lower.EntanglementID)
	})

	t.Run("phone separators are stripped", func(t *testing.T) {
		formatted, err := h.Hash("(555) 123-4567", models.PIITypePhone)
		require.NoError(t, err)
		plain, err := h.Hash("5551234567", models.PIITypePhone)
		require.NoError(t, err)

		assert.Equal(t, formatted.EntanglementID, plain.EntanglementID)
	})

	t.Run("names keep case", func(t *testing.T) {
		upper, err := h.Hash("Alice Smith", models.PIITypeName)
		require.NoError(t, err)
		lower, err := h.Hash("alice smith", models.PIITypeName)
		require.NoError(t, err)

		assert.NotEqual(t, upper.EntanglementID, lower.EntanglementID)
	})
}

func TestHashDomainSeparation(t *testing.T) {
	h := newTestHasher(t)

	// Same digits as an SSN and as a phone number must not correlate.
	ssn, err := h.Hash("123456789", models.PIITypeSSN)
	require.NoError(t, err)
	phone, err := h.Hash("123456789", models.PIITypePhone)
	require.NoError(t, err)

	assert.NotEqual(t, ssn.EntanglementID, phone.EntanglementID)
}

func TestHashPepperSeparation(t *testing.T) {
	h1, err := New(Config{Pepper: testPepper, Argon2: testArgon2Params})
	require.NoError(t, err)
	h2, err := New(Config{Pepper: "another-pepper-0123456789", Argon2: testArgon2Params})
	require.NoError(t, err)

	first, err := h1.Hash("123-45-6789", models.PIITypeSSN)
	require.NoError(t, err)
	second, err := h2.Hash("123-45-6789", models.PIITypeSSN)
	require.NoError(t, err)

	assert.NotEqual(t, first.EntanglementID, second.EntanglementID)
	assert.NotEqual(t, first.HashedValue, second.HashedValue)
}

func TestHashShape(t *testing.T) {
	h := newTestHasher(t)

	res, err := h.Hash("alice@example.com", models.PIITypeEmail)
	require.NoError(t, err)

	assert.Len(t, res.EntanglementID.String(), 32)
	for _, r := range res.EntanglementID.String() {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
	assert.True(t, strings.HasPrefix(res.HashedValue, "argon2id$"))
	assert.NotContains(t, res.HashedValue, "alice@example.com")
}

func TestHashEmptyValue(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash("   ", models.PIITypeName)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestHashDetections(t *testing.T) {
	h := newTestHasher(t)

	t.Run("hashes every detection", func(t *testing.T) {
		matches, err := h.HashDetections([]models.DetectedPII{
			{Type: models.PIITypeSSN, RawValue: "123-45-6789", Confidence: 0.95, DetectionMethod: "regex"},
			{Type: models.PIITypeEmail, RawValue: "alice@example.com", Confidence: 0.9, DetectionMethod: "regex"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, models.PIITypeSSN, matches[0].Type)
		assert.NotEmpty(t, matches[0].EntanglementID)
		assert.NotEmpty(t, matches[0].HashedValue)
	})

	t.Run("aborts the batch on one bad detection", func(t *testing.T) {
		matches, err := h.HashDetections([]models.DetectedPII{
			{Type: models.PIITypeSSN, RawValue: "123-45-6789", Confidence: 0.95},
			{Type: models.PIIType("PASSPORT"), RawValue: "X1234567", Confidence: 0.8},
		})
		require.Error(t, err)
		assert.Nil(t, matches)
	})

	t.Run("clamps confidence into the unit interval", func(t *testing.T) {
		matches, err := h.HashDetections([]models.DetectedPII{
			{Type: models.PIITypeSSN, RawValue: "123-45-6789", Confidence: 1.7},
			{Type: models.PIITypeEmail, RawValue: "a@b.com", Confidence: -0.3},
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, matches[0].Confidence)
		assert.Equal(t, 0.0, matches[1].Confidence)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		matches, err := h.HashDetections(nil)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func FuzzNormalize(f *testing.F) {
	f.Add("123-45-6789", string(models.PIITypeSSN))
	f.Add("Alice@Example.COM", string(models.PIITypeEmail))
	f.Add("(555) 123-4567", string(models.PIITypePhone))
	f.Add("742 Evergreen Terrace", string(models.PIITypeAddress))

	f.Fuzz(func(t *testing.T, value, piiType string) {
		normalized := Normalize(value, models.PIIType(piiType))
		// Normalization is idempotent.
		if again := Normalize(normalized, models.PIIType(piiType)); again != normalized {
			t.Fatalf("normalize not idempotent: %q -> %q -> %q", value, normalized, again)
		}
	})
}
