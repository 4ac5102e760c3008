package stakeweight

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

func TestSnapshotSplitsTotalAndGroup(t *testing.T) {
	sw, err := Snapshot(feemodel.NcnFeeGroupJTO, uint256.NewInt(1_000), 2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := sw.Total().Uint64(); got != 1_000 {
		t.Fatalf("total = %d, want 1000", got)
	}
	group, err := sw.Group(feemodel.NcnFeeGroupJTO)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if got := group.Uint64(); got != 2_000 {
		t.Fatalf("group weight = %d, want 2000", got)
	}
	other, err := sw.Group(feemodel.NcnFeeGroupDefault)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if !other.IsZero() {
		t.Fatalf("untouched group should be zero, got %s", other.String())
	}
}

func TestIncrementAccumulatesAcrossGroups(t *testing.T) {
	a, err := Snapshot(feemodel.NcnFeeGroupDefault, uint256.NewInt(100), 1)
	if err != nil {
		t.Fatalf("Snapshot a: %v", err)
	}
	b, err := Snapshot(feemodel.NcnFeeGroupJTO, uint256.NewInt(50), 1)
	if err != nil {
		t.Fatalf("Snapshot b: %v", err)
	}
	if err := a.Increment(&b); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got := a.Total().Uint64(); got != 150 {
		t.Fatalf("total = %d, want 150", got)
	}
	def, _ := a.Group(feemodel.NcnFeeGroupDefault)
	jto, _ := a.Group(feemodel.NcnFeeGroupJTO)
	if def.Uint64() != 100 || jto.Uint64() != 50 {
		t.Fatalf("group split wrong: default=%d jto=%d", def.Uint64(), jto.Uint64())
	}
}

func TestIncrementTotalOverflowIsFatal(t *testing.T) {
	max := New(new(uint256.Int).SetAllOne())
	one := New(uint256.NewInt(1))
	err := max.Increment(&one)
	if !errors.Is(err, ncnerrors.ErrArithmeticOverflow) {
		t.Fatalf("got %v, want ErrArithmeticOverflow", err)
	}
}

func TestGroupOutOfRangeIsRejected(t *testing.T) {
	sw := New(uint256.NewInt(1))
	if _, err := sw.Group(feemodel.FeeGroupCount); !errors.Is(err, ncnerrors.ErrInvalidNcnFeeGroup) {
		t.Fatalf("got %v, want ErrInvalidNcnFeeGroup", err)
	}
}

func TestIsZero(t *testing.T) {
	var sw StakeWeights
	if !sw.IsZero() {
		t.Fatalf("zero-value StakeWeights should report IsZero")
	}
	nonZero := New(uint256.NewInt(1))
	if nonZero.IsZero() {
		t.Fatalf("StakeWeights with total=1 should not report IsZero")
	}
}
