package feemodel

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/precise"
)

// Fee is one buffered fee record: a block-engine siphon plus the 8 base and
// 8 NCN group allocations, active from ActivationEpoch onward.
type Fee struct {
	BlockEngineFeeBps uint64
	BaseFeeBps        [FeeGroupCount]uint64
	BaseFeeWallet     [FeeGroupCount]common.Address
	NcnFeeBps         [FeeGroupCount]uint64
	ActivationEpoch   uint64
}

func (f Fee) clone() Fee {
	return f
}

// sumBps returns the combined block-engine + all base + all NCN bps.
func (f Fee) sumBps() uint64 {
	sum := f.BlockEngineFeeBps
	for _, bps := range f.BaseFeeBps {
		sum += bps
	}
	for _, bps := range f.NcnFeeBps {
		sum += bps
	}
	return sum
}

// FeeSchedule is the two-slot double-buffered fee record of §4.1.
type FeeSchedule struct {
	fee1 Fee
	fee2 Fee
}

// NewFeeSchedule seeds both buffer slots with the same initial fee, active
// immediately (ActivationEpoch 0).
func NewFeeSchedule(initial Fee) FeeSchedule {
	initial.ActivationEpoch = 0
	return FeeSchedule{fee1: initial, fee2: initial}
}

// CurrentFee returns the record with the greatest ActivationEpoch <= epoch;
// ties favor fee1, matching core/src/fees.rs::Fees::current_fee.
func (s *FeeSchedule) CurrentFee(epoch uint64) Fee {
	if s.fee1.ActivationEpoch > epoch {
		return s.fee2
	}
	if s.fee2.ActivationEpoch > epoch {
		return s.fee1
	}
	if s.fee1.ActivationEpoch >= s.fee2.ActivationEpoch {
		return s.fee1
	}
	return s.fee2
}

// updatableSlot returns a pointer to the buffer slot an update at `epoch`
// should write into: the one already scheduled for the future if either is,
// else the one with the lower (currently active) ActivationEpoch.
func (s *FeeSchedule) updatableSlot(epoch uint64) *Fee {
	if s.fee1.ActivationEpoch > epoch {
		return &s.fee1
	}
	if s.fee2.ActivationEpoch > epoch {
		return &s.fee2
	}
	if s.fee1.ActivationEpoch <= s.fee2.ActivationEpoch {
		return &s.fee1
	}
	return &s.fee2
}

// Update copies CurrentFee(epoch) into the updatable slot, applies mutate,
// sets ActivationEpoch = epoch+1, and validates the result with
// CheckFeesOkay before committing. On validation failure the schedule is
// left unchanged.
func (s *FeeSchedule) Update(epoch uint64, mutate func(*Fee) error) error {
	next := s.CurrentFee(epoch).clone()
	if err := mutate(&next); err != nil {
		return err
	}
	next.ActivationEpoch = epoch + 1

	trial := *s
	*trial.updatableSlot(epoch) = next
	if err := trial.CheckFeesOkay(epoch + 1); err != nil {
		return err
	}
	*s = trial
	return nil
}

// CheckFeesOkay validates §4.1's contracts for the fee active at epoch:
// block_engine_fee_bps < 10_000 strictly, each group <= 10_000, and the sum
// of everything <= 10_000.
func (s *FeeSchedule) CheckFeesOkay(epoch uint64) error {
	fee := s.CurrentFee(epoch)
	if fee.BlockEngineFeeBps >= MaxFeeBps {
		return fmt.Errorf("%w: block engine fee %d bps >= %d", ncnerrors.ErrFeeCapExceeded, fee.BlockEngineFeeBps, MaxFeeBps)
	}
	for i, bps := range fee.BaseFeeBps {
		if bps > MaxFeeBps {
			return fmt.Errorf("%w: base fee group %d is %d bps", ncnerrors.ErrFeeCapExceeded, i, bps)
		}
	}
	for i, bps := range fee.NcnFeeBps {
		if bps > MaxFeeBps {
			return fmt.Errorf("%w: ncn fee group %d is %d bps", ncnerrors.ErrFeeCapExceeded, i, bps)
		}
	}
	if fee.sumBps() > MaxFeeBps {
		return fmt.Errorf("%w: total fee bps %d exceeds %d", ncnerrors.ErrFeeCapExceeded, fee.sumBps(), MaxFeeBps)
	}
	return nil
}

// remainingBps is 10_000 - block_engine_fee_bps, the denominator every
// precise_* fee is rescaled against (§4.1).
func remainingBps(fee Fee) (uint64, error) {
	if fee.BlockEngineFeeBps >= MaxFeeBps {
		return 0, ncnerrors.ErrDenominatorIsZero
	}
	return MaxFeeBps - fee.BlockEngineFeeBps, nil
}

// preciseGroupFee rescales a raw bps value as a portion of the
// post-block-engine remainder: bps * 10_000 / (10_000 - block_engine_bps).
func preciseGroupFee(fee Fee, bps uint64) (precise.Number, error) {
	remaining, err := remainingBps(fee)
	if err != nil {
		return precise.Number{}, err
	}
	scaled, err := precise.FromUint64(bps)
	if err != nil {
		return precise.Number{}, err
	}
	scaled, err = scaled.MulInt(MaxFeeBps)
	if err != nil {
		return precise.Number{}, err
	}
	denom, err := precise.FromUint64(remaining)
	if err != nil {
		return precise.Number{}, err
	}
	return scaled.Div(denom)
}

// PreciseBlockEngineFee returns the block engine fee as a Number, unscaled
// by the remainder rule (it IS the top-of-stack siphon).
func (s *FeeSchedule) PreciseBlockEngineFee(epoch uint64) (precise.Number, error) {
	return precise.FromUint64(s.CurrentFee(epoch).BlockEngineFeeBps)
}

// PreciseDaoFee returns base group 0 (DAO)'s fee as a portion of the
// post-block-engine remainder.
func (s *FeeSchedule) PreciseDaoFee(epoch uint64) (precise.Number, error) {
	return s.PreciseBaseFee(epoch, BaseFeeGroupDAO)
}

// PreciseBaseFee returns the given base group's fee as a portion of the
// post-block-engine remainder.
func (s *FeeSchedule) PreciseBaseFee(epoch uint64, group BaseFeeGroup) (precise.Number, error) {
	fee := s.CurrentFee(epoch)
	return preciseGroupFee(fee, fee.BaseFeeBps[group])
}

// PreciseNcnFee returns the given NCN group's fee as a portion of the
// post-block-engine remainder.
func (s *FeeSchedule) PreciseNcnFee(epoch uint64, group NcnFeeGroup) (precise.Number, error) {
	fee := s.CurrentFee(epoch)
	return preciseGroupFee(fee, fee.NcnFeeBps[group])
}
