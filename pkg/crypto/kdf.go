package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id defaults following OWASP recommendations.
const (
	// KDFAlgorithm is the only derivation algorithm sealbox writes.
	KDFAlgorithm = "argon2id"

	// DefaultTimeCost is the number of Argon2 passes.
	DefaultTimeCost = 3

	// DefaultMemoryKiB is the memory cost in KiB (64MB).
	DefaultMemoryKiB = 64 * 1024

	// DefaultParallelism is the degree of parallelism.
	DefaultParallelism = 4

	// SaltLength is the per-vault salt size in bytes (128 bits).
	SaltLength = 16
)

// Accepted ranges for stored parameters. Files outside these bounds are
// rejected instead of letting a crafted header demand unbounded memory.
const (
	MinTimeCost    = 1
	MaxTimeCost    = 10
	MinMemoryKiB   = 8 * 1024
	MaxMemoryKiB   = 1024 * 1024
	MinParallelism = 1
	MaxParallelism = 16
)

// ErrInvalidKDFParams indicates out-of-range or unknown derivation parameters.
var ErrInvalidKDFParams = errors.New("crypto: invalid key derivation parameters")

// KDFCost holds the tunable cost of a derivation, without the salt.
type KDFCost struct {
	TimeCost    uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// DefaultKDFParams returns the default derivation cost.
func DefaultKDFParams() KDFCost {
	return KDFCost{
		TimeCost:    DefaultTimeCost,
		MemoryKiB:   DefaultMemoryKiB,
		Parallelism: DefaultParallelism,
	}
}

// KDFParams is everything needed to re-derive a vault key. It is stored in
// every vault file so that opening never depends on current defaults.
type KDFParams struct {
	Algorithm string
	KDFCost
	Salt []byte
}

// NewKDFParams returns parameters with the given cost and a fresh random salt.
func NewKDFParams(cost KDFCost) (KDFParams, error) {
	salt, err := RandomBytes(SaltLength)
	if err != nil {
		return KDFParams{}, err
	}
	p := KDFParams{Algorithm: KDFAlgorithm, KDFCost: cost, Salt: salt}
	if err := p.Validate(); err != nil {
		return KDFParams{}, err
	}
	return p, nil
}

// Validate checks the algorithm, cost bounds, and salt length.
func (p KDFParams) Validate() error {
	if p.Algorithm != KDFAlgorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKDFParams, p.Algorithm)
	}
	if len(p.Salt) != SaltLength {
		return fmt.Errorf("%w: salt must be %d bytes, got %d", ErrInvalidKDFParams, SaltLength, len(p.Salt))
	}
	if p.TimeCost < MinTimeCost || p.TimeCost > MaxTimeCost {
		return fmt.Errorf("%w: time cost %d outside %d-%d", ErrInvalidKDFParams, p.TimeCost, MinTimeCost, MaxTimeCost)
	}
	if p.MemoryKiB < MinMemoryKiB || p.MemoryKiB > MaxMemoryKiB {
		return fmt.Errorf("%w: memory cost %d KiB outside %d-%d", ErrInvalidKDFParams, p.MemoryKiB, MinMemoryKiB, MaxMemoryKiB)
	}
	if p.Parallelism < MinParallelism || p.Parallelism > MaxParallelism {
		return fmt.Errorf("%w: parallelism %d outside %d-%d", ErrInvalidKDFParams, p.Parallelism, MinParallelism, MaxParallelism)
	}
	return nil
}

// Clone returns a copy that does not share the salt slice.
func (p KDFParams) Clone() KDFParams {
	c := p
	c.Salt = append([]byte(nil), p.Salt...)
	return c
}

// DeriveKey derives a 256-bit key from a passphrase using Argon2id and the
// supplied parameters. It is deterministic for identical inputs.
//
// Rejecting empty passphrases is the caller's job.
func DeriveKey(passphrase []byte, p KDFParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(passphrase, p.Salt, p.TimeCost, p.MemoryKiB, p.Parallelism, KeyLength), nil
}

// TestParams returns the cheapest valid parameters with a fresh salt.
// They are only suitable for tests.
func TestParams() KDFParams {
	p, err := NewKDFParams(KDFCost{TimeCost: MinTimeCost, MemoryKiB: MinMemoryKiB, Parallelism: MinParallelism})
	if err != nil {
		panic(err)
	}
	return p
}
