// Package stakeweight implements the StakeWeights value type of §3: a total
// stake weight plus 8 per-NCN-fee-group sub-weights, with all arithmetic
// checked and overflow treated as fatal (never a silent wrap), grounded on
// core/src/stake_weight.rs.
package stakeweight

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// StakeWeights carries a total stake weight (used for ballot-box voting)
// plus its decomposition across the 8 NCN fee groups (used for reward
// routing).
type StakeWeights struct {
	total       uint256.Int
	groups      [feemodel.FeeGroupCount]uint256.Int
}

// New builds a StakeWeights with only the total set, no group breakdown.
func New(total *uint256.Int) StakeWeights {
	var sw StakeWeights
	sw.total.Set(total)
	return sw
}

// Snapshot builds a StakeWeights for a single delegation: the total equals
// stakeWeight, and the reward-bearing component
// (rewardMultiplierBps * stakeWeight) is credited to the given NCN fee
// group, matching StakeWeights::snapshot in the source.
func Snapshot(group feemodel.NcnFeeGroup, stakeWeight *uint256.Int, rewardMultiplierBps uint64) (StakeWeights, error) {
	var sw StakeWeights
	rewardStakeWeight, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(rewardMultiplierBps), stakeWeight)
	if overflow {
		return StakeWeights{}, fmt.Errorf("%w: reward multiplier * stake weight", ncnerrors.ErrArithmeticOverflow)
	}
	if err := sw.incrementTotal(stakeWeight); err != nil {
		return StakeWeights{}, err
	}
	if err := sw.incrementGroup(group, rewardStakeWeight); err != nil {
		return StakeWeights{}, err
	}
	return sw, nil
}

// Total returns the aggregate stake weight.
func (sw *StakeWeights) Total() *uint256.Int {
	return new(uint256.Int).Set(&sw.total)
}

// Group returns the stake weight attributed to a single NCN fee group.
func (sw *StakeWeights) Group(group feemodel.NcnFeeGroup) (*uint256.Int, error) {
	if int(group) >= feemodel.FeeGroupCount {
		return nil, ncnerrors.ErrInvalidNcnFeeGroup
	}
	return new(uint256.Int).Set(&sw.groups[group]), nil
}

func (sw *StakeWeights) incrementTotal(v *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(&sw.total, v)
	if overflow {
		return fmt.Errorf("%w: stake weight total", ncnerrors.ErrArithmeticOverflow)
	}
	sw.total = *sum
	return nil
}

func (sw *StakeWeights) incrementGroup(group feemodel.NcnFeeGroup, v *uint256.Int) error {
	if int(group) >= feemodel.FeeGroupCount {
		return ncnerrors.ErrInvalidNcnFeeGroup
	}
	sum, overflow := new(uint256.Int).AddOverflow(&sw.groups[group], v)
	if overflow {
		return fmt.Errorf("%w: stake weight group %d", ncnerrors.ErrArithmeticOverflow, group)
	}
	sw.groups[group] = *sum
	return nil
}

// Increment adds other into sw, component-wise, checked for overflow.
// Mirrors StakeWeights::increment.
func (sw *StakeWeights) Increment(other *StakeWeights) error {
	if err := sw.incrementTotal(&other.total); err != nil {
		return err
	}
	for _, g := range feemodel.AllNcnFeeGroups() {
		if err := sw.incrementGroup(g, &other.groups[g]); err != nil {
			return err
		}
	}
	return nil
}

// IsZero reports whether both the total and every group weight are zero
// (used to recognize an inactive operator's contribution, §4.4 step 3).
func (sw *StakeWeights) IsZero() bool {
	if !sw.total.IsZero() {
		return false
	}
	for i := range sw.groups {
		if !sw.groups[i].IsZero() {
			return false
		}
	}
	return true
}
