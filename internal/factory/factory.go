package factory

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"

	"VestLedger/internal/stream"

	"github.com/google/uuid"
)

// Namespace seed for deterministic stream identities. Changing it is a
// breaking change: every predicted address shifts.
const identitySeed = "VestLedger:streams:v1"

var (
	ErrStreamExists   = errors.New("stream with identical parameters already exists (use a nonce)")
	ErrStreamNotFound = errors.New("stream not found")
)

// CreateParams are the six configuration parameters of a stream plus the
// creator identity and an optional disambiguating nonce. Payer is always an
// explicit field — never inferred from the creator.
type CreateParams struct {
	Creator     uuid.UUID
	Payer       uuid.UUID
	Recipient   uuid.UUID
	TotalAmount int64
	Asset       string
	StartTime   int64
	StopTime    int64
	Nonce       uint64
}

// salt builds the canonical byte encoding hashed into the stream identity.
// Fixed field order and fixed-width integers keep it stable across versions.
func (p CreateParams) salt() []byte {
	buf := make([]byte, 0, 16*3+8*4+len(p.Asset)+1)

	buf = append(buf, p.Creator[:]...)
	buf = append(buf, p.Payer[:]...)
	buf = append(buf, p.Recipient[:]...)

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(p.TotalAmount))
	buf = append(buf, n[:]...)

	buf = append(buf, byte(len(p.Asset)))
	buf = append(buf, []byte(p.Asset)...)

	binary.LittleEndian.PutUint64(n[:], uint64(p.StartTime))
	buf = append(buf, n[:]...)
	binary.LittleEndian.PutUint64(n[:], uint64(p.StopTime))
	buf = append(buf, n[:]...)
	binary.LittleEndian.PutUint64(n[:], p.Nonce)
	buf = append(buf, n[:]...)

	return buf
}

// Predict computes the stream identity the factory would assign for these
// parameters, without creating anything. Callers can reference (and fund)
// the future stream account before creation completes.
func Predict(p CreateParams) uuid.UUID {
	namespace := uuid.NewHash(sha256.New(), uuid.Nil, []byte(identitySeed), 5)
	return uuid.NewHash(sha256.New(), namespace, p.salt(), 5)
}

// Factory creates VestingAccount instances under deterministic identities and
// owns the registry of live streams.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type Factory struct {
	streams map[uuid.UUID]*stream.VestingAccount
}

func NewFactory() *Factory {
	return &Factory{
		streams: make(map[uuid.UUID]*stream.VestingAccount),
	}
}

// Create derives the deterministic identity, constructs the account, and runs
// its one-time Initialize. Identical parameters (including nonce) collide and
// are rejected; a fresh nonce disambiguates intentional reuse.
func (f *Factory) Create(p CreateParams) (*stream.VestingAccount, error) {
	streamID := Predict(p)

	if _, exists := f.streams[streamID]; exists {
		return nil, ErrStreamExists
	}

	acct := stream.NewVestingAccount(streamID)
	if err := acct.Initialize(p.Payer, p.Recipient, p.TotalAmount, p.Asset, p.StartTime, p.StopTime); err != nil {
		// Nothing registered — a failed initialize leaves no trace
		return nil, err
	}

	f.streams[streamID] = acct
	return acct, nil
}

// Get returns a registered stream by identity.
func (f *Factory) Get(streamID uuid.UUID) (*stream.VestingAccount, error) {
	acct, ok := f.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return acct, nil
}

// All returns every registered stream sorted by identity (deterministic
// iteration for state hashing and snapshots).
func (f *Factory) All() []*stream.VestingAccount {
	result := make([]*stream.VestingAccount, 0, len(f.streams))
	for _, acct := range f.streams {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StreamID.String() < result[j].StreamID.String()
	})
	return result
}

// Len returns the number of registered streams.
func (f *Factory) Len() int {
	return len(f.streams)
}

// Restore registers a stream loaded from a snapshot, bypassing Create.
func (f *Factory) Restore(acct *stream.VestingAccount) {
	f.streams[acct.StreamID] = acct
}
