package factory_test

import (
	"errors"
	"testing"

	"VestLedger/internal/factory"
	"VestLedger/internal/stream"

	"github.com/google/uuid"
)

func testParams() factory.CreateParams {
	return factory.CreateParams{
		Creator:     uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Payer:       uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"),
		Recipient:   uuid.MustParse("550e8400-e29b-41d4-a716-446655440002"),
		TotalAmount: 2000,
		Asset:       "USDC",
		StartTime:   1_700_000_000,
		StopTime:    1_700_001_000,
	}
}

func TestPredict_Deterministic(t *testing.T) {
	p := testParams()

	a := factory.Predict(p)
	b := factory.Predict(p)
	if a != b {
		t.Errorf("same params must predict the same identity: %s vs %s", a, b)
	}
}

func TestPredict_SensitiveToEveryField(t *testing.T) {
	base := factory.Predict(testParams())

	variants := map[string]factory.CreateParams{}

	p := testParams()
	p.Creator = uuid.New()
	variants["creator"] = p

	p = testParams()
	p.Payer = uuid.New()
	variants["payer"] = p

	p = testParams()
	p.Recipient = uuid.New()
	variants["recipient"] = p

	p = testParams()
	p.TotalAmount++
	variants["amount"] = p

	p = testParams()
	p.Asset = "USDT"
	variants["asset"] = p

	p = testParams()
	p.StartTime++
	variants["start"] = p

	p = testParams()
	p.StopTime++
	variants["stop"] = p

	p = testParams()
	p.Nonce = 1
	variants["nonce"] = p

	for field, v := range variants {
		if factory.Predict(v) == base {
			t.Errorf("changing %s must change the predicted identity", field)
		}
	}
}

func TestCreate_MatchesPrediction(t *testing.T) {
	f := factory.NewFactory()
	p := testParams()

	predicted := factory.Predict(p)
	acct, err := f.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.StreamID != predicted {
		t.Errorf("created identity %s != predicted %s", acct.StreamID, predicted)
	}
	if !acct.Initialized {
		t.Error("factory must initialize the stream")
	}

	got, err := f.Get(predicted)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != acct {
		t.Error("registry must return the created instance")
	}
}

func TestCreate_DuplicateRejected(t *testing.T) {
	f := factory.NewFactory()
	p := testParams()

	if _, err := f.Create(p); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.Create(p)
	if !errors.Is(err, factory.ErrStreamExists) {
		t.Errorf("got %v, want ErrStreamExists", err)
	}
}

func TestCreate_NonceDisambiguates(t *testing.T) {
	f := factory.NewFactory()
	p := testParams()

	first, err := f.Create(p)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	p.Nonce = 1
	second, err := f.Create(p)
	if err != nil {
		t.Fatalf("nonce create: %v", err)
	}

	if first.StreamID == second.StreamID {
		t.Error("distinct nonces must produce distinct streams")
	}
	if f.Len() != 2 {
		t.Errorf("registry size: got %d, want 2", f.Len())
	}
}

func TestCreate_InvalidConfigLeavesNoTrace(t *testing.T) {
	f := factory.NewFactory()
	p := testParams()
	p.TotalAmount = 0

	_, err := f.Create(p)
	if !errors.Is(err, stream.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
	if f.Len() != 0 {
		t.Error("failed create must not register anything")
	}
}

func TestGet_Unknown(t *testing.T) {
	f := factory.NewFactory()

	_, err := f.Get(uuid.New())
	if !errors.Is(err, factory.ErrStreamNotFound) {
		t.Errorf("got %v, want ErrStreamNotFound", err)
	}
}
