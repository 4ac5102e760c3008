package ncnconfig

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

func TestNewRejectsOutOfRangeParameters(t *testing.T) {
	_, err := New(common.Hash{}, common.Address{}, common.Address{}, feemodel.NewFeeSchedule(feemodel.Fee{}), 0, 0, 1, 1)
	if !errors.Is(err, ncnerrors.ErrRangeOutOfBounds) {
		t.Fatalf("got %v, want ErrRangeOutOfBounds (epochs_before_stall=0)", err)
	}
}

func TestSetParametersValidatesBeforeCommitting(t *testing.T) {
	c, err := New(common.Hash{}, common.Address{}, common.Address{}, feemodel.NewFeeSchedule(feemodel.Fee{}), 0, 1, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bad := uint64(0)
	if err := c.SetParameters(&bad, nil); !errors.Is(err, ncnerrors.ErrRangeOutOfBounds) {
		t.Fatalf("got %v, want ErrRangeOutOfBounds", err)
	}
	if c.EpochsBeforeStall != 1 {
		t.Fatalf("rejected update should not mutate config, got EpochsBeforeStall=%d", c.EpochsBeforeStall)
	}

	good := uint64(5)
	if err := c.SetParameters(&good, nil); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	if c.EpochsBeforeStall != 5 {
		t.Fatalf("EpochsBeforeStall = %d, want 5", c.EpochsBeforeStall)
	}
}
