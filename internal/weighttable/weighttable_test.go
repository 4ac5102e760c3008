package weighttable

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/vaultregistry"
)

func hash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func registryWithOneMint(t *testing.T, mint common.Hash, feedID *common.Hash, noFeedWeight uint64) *vaultregistry.Registry {
	t.Helper()
	r := vaultregistry.New()
	if err := r.RegisterStMint(mint, feemodel.NcnFeeGroupDefault, 10_000, feedID, noFeedWeight); err != nil {
		t.Fatalf("RegisterStMint: %v", err)
	}
	return r
}

func TestNewRejectsEpochBeforeStart(t *testing.T) {
	mint := hash(1)
	r := registryWithOneMint(t, mint, nil, 1)
	_, err := New(r, 5, 10)
	if !errors.Is(err, ncnerrors.ErrWeightTableTooEarly) {
		t.Fatalf("got %v, want ErrWeightTableTooEarly", err)
	}
}

func TestSetWeightAdminThenFinalize(t *testing.T) {
	mint := hash(1)
	r := registryWithOneMint(t, mint, nil, 1)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tbl.Finalized() {
		t.Fatalf("table should not be finalized before any weight is set")
	}
	if err := tbl.SetWeightAdmin(mint, uint256.NewInt(42), 100); err != nil {
		t.Fatalf("SetWeightAdmin: %v", err)
	}
	if !tbl.Finalized() {
		t.Fatalf("table should be finalized once every mint has a weight")
	}
	got, err := tbl.GetWeight(mint)
	if err != nil {
		t.Fatalf("GetWeight: %v", err)
	}
	if got.Uint64() != 42 {
		t.Fatalf("weight = %d, want 42", got.Uint64())
	}
}

func TestSlotSetIsImmutableOnceNonZero(t *testing.T) {
	mint := hash(1)
	r := registryWithOneMint(t, mint, nil, 1)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tbl.SetWeightAdmin(mint, uint256.NewInt(1), 100); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := tbl.SetWeightAdmin(mint, uint256.NewInt(2), 200); err != nil {
		t.Fatalf("second set: %v", err)
	}
	idx := tbl.findLocked(mint)
	if tbl.weights[idx].SlotSet != 100 {
		t.Fatalf("slot_set changed: %d, want 100", tbl.weights[idx].SlotSet)
	}
	if tbl.weights[idx].SlotUpdated != 200 {
		t.Fatalf("slot_updated = %d, want 200", tbl.weights[idx].SlotUpdated)
	}
}

type fakeFeed struct {
	price      float64
	resultSlot uint64
	err        error
}

func (f fakeFeed) Quote(common.Hash) (float64, uint64, error) {
	return f.price, f.resultSlot, f.err
}

func TestSetWeightFromOracleRejectsStaleFeed(t *testing.T) {
	mint := hash(1)
	feedID := hash(7)
	r := registryWithOneMint(t, mint, &feedID, 0)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed := fakeFeed{price: 1.5, resultSlot: 100}
	err = tbl.SetWeightFromOracle(feed, feedID, mint, 100+MaxStaleSlots+1)
	if !errors.Is(err, ncnerrors.ErrStaleSwitchboardFeed) {
		t.Fatalf("got %v, want ErrStaleSwitchboardFeed", err)
	}
}

func TestSetWeightFromOracleScalesByPrecision(t *testing.T) {
	mint := hash(1)
	feedID := hash(7)
	r := registryWithOneMint(t, mint, &feedID, 0)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed := fakeFeed{price: 2.0, resultSlot: 100}
	if err := tbl.SetWeightFromOracle(feed, feedID, mint, 100); err != nil {
		t.Fatalf("SetWeightFromOracle: %v", err)
	}
	got, err := tbl.GetWeight(mint)
	if err != nil {
		t.Fatalf("GetWeight: %v", err)
	}
	if got.Uint64() != 2*WeightPrecision {
		t.Fatalf("weight = %d, want %d", got.Uint64(), 2*WeightPrecision)
	}
}

func TestSetWeightFromOracleFallsBackWhenNoFeedRegistered(t *testing.T) {
	mint := hash(1)
	r := registryWithOneMint(t, mint, nil, 7)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tbl.SetWeightFromOracle(fakeFeed{}, common.Hash{}, mint, 100); err != nil {
		t.Fatalf("SetWeightFromOracle: %v", err)
	}
	got, err := tbl.GetWeight(mint)
	if err != nil {
		t.Fatalf("GetWeight: %v", err)
	}
	if got.Uint64() != 7 {
		t.Fatalf("weight = %d, want 7 (fallback)", got.Uint64())
	}
}

func TestGetWeightNotSet(t *testing.T) {
	mint := hash(1)
	r := registryWithOneMint(t, mint, nil, 1)
	tbl, err := New(r, 10, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tbl.GetWeight(mint)
	if !errors.Is(err, ncnerrors.ErrWeightNotSet) {
		t.Fatalf("got %v, want ErrWeightNotSet", err)
	}
}
