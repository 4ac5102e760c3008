// Package rewardrouter implements C7: the two-stage lamport reward router.
// Stage 1 (BaseRouter) splits incoming MEV tips into base-fee and
// NCN-fee-group pools (no block-engine pool: that cut is taken before the
// tips reach the router) and routes each NCN pool's share across voting
// operators; stage 2 (NcnRouter, see ncnrouter.go) splits an operator's
// share between the operator and its vaults. Grounded in shape on
// consensus/voting.go's mutex-guarded accumulator pattern, generalized from
// per-validator rewards to the fee-group routing §4.7 describes.
package rewardrouter

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/blake2b"

	"github.com/ncn-labs/tip-router/internal/ballotbox"
	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/snapshot"
)

// OperatorRoute is one operator's still-undistributed share of an NCN fee
// group's pool.
type OperatorRoute struct {
	Operator common.Address
	Amount   uint64
}

// BaseRouter is the Stage 1 router for one (NCN, epoch): it owns the Base
// Reward Receiver's lamport pool from the moment tips land until every
// base and NCN fee group has been paid out.
type BaseRouter struct {
	mu sync.Mutex

	Epoch uint64

	rewardPool        uint64
	baseFeeGroupPools [feemodel.FeeGroupCount]uint64
	ncnFeeGroupPools  [feemodel.FeeGroupCount]uint64
	ncnFeeGroupRoutes [feemodel.FeeGroupCount]map[common.Address]uint64

	poolRouted  bool // route_reward_pool has run
	groupRouted [feemodel.FeeGroupCount]bool
}

// NewBaseRouter constructs an empty router for the given epoch.
func NewBaseRouter(epoch uint64) *BaseRouter {
	br := &BaseRouter{Epoch: epoch}
	for i := range br.ncnFeeGroupRoutes {
		br.ncnFeeGroupRoutes[i] = make(map[common.Address]uint64)
	}
	return br
}

// RouteIncomingRewards adds receiverBalance-rentCost to the reward pool
// (§4.7 Stage 1 step 1).
func (br *BaseRouter) RouteIncomingRewards(receiverBalance, rentCost uint64) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if rentCost > receiverBalance {
		return fmt.Errorf("%w: rent cost %d exceeds receiver balance %d", ncnerrors.ErrArithmeticUnderflow, rentCost, receiverBalance)
	}
	br.rewardPool += receiverBalance - rentCost
	return nil
}

// RewardPoolBalance returns the amount still waiting to be routed into the
// base and NCN fee group pools.
func (br *BaseRouter) RewardPoolBalance() uint64 {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.rewardPool
}

// RouteRewardPool splits the reward pool across every configured base-fee
// and NCN-fee group, proportional to that group's bps out of the sum of
// all configured base+ncn group bps (§4.7 Stage 1 step 2). The
// block-engine's cut is siphoned upstream, before lamports ever reach this
// router, so block_engine_bps plays no part in the denominator and the
// full pool is expected to be consumed by the base+ncn groups: any
// sub-lamport rounding remainder accrues to the first group with a
// nonzero bps allocation, preserving Σshares == pool.
func (br *BaseRouter) RouteRewardPool(schedule *feemodel.FeeSchedule) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.poolRouted {
		return nil
	}

	fee := schedule.CurrentFee(br.Epoch)
	if fee.BlockEngineFeeBps >= feemodel.MaxFeeBps {
		return fmt.Errorf("%w: block engine fee %d bps", ncnerrors.ErrFeeCapExceeded, fee.BlockEngineFeeBps)
	}

	distributable := br.rewardPool

	type shareTarget struct {
		bps   uint64
		apply func(uint64)
	}
	targets := make([]shareTarget, 0, 2*feemodel.FeeGroupCount)
	for i := range fee.BaseFeeBps {
		i := i
		targets = append(targets, shareTarget{bps: fee.BaseFeeBps[i], apply: func(v uint64) { br.baseFeeGroupPools[i] += v }})
	}
	for i := range fee.NcnFeeBps {
		i := i
		targets = append(targets, shareTarget{bps: fee.NcnFeeBps[i], apply: func(v uint64) { br.ncnFeeGroupPools[i] += v }})
	}

	var totalConfiguredBps uint64
	for _, t := range targets {
		totalConfiguredBps += t.bps
	}

	// Each group's bps is a fraction of the sum of all configured base+ncn
	// group bps (bps * pool / Σconfigured), never against block_engine_bps
	// or MaxFeeBps. This is not the FeeSchedule's precise fee rescaling,
	// which divides by MaxFeeBps - block_engine_bps.
	var distributed uint64
	firstNonzero := -1
	if totalConfiguredBps > 0 {
		for i, t := range targets {
			if t.bps == 0 {
				continue
			}
			if firstNonzero == -1 {
				firstNonzero = i
			}
			amount, err := floorMulDiv(distributable, uint256.NewInt(t.bps), uint256.NewInt(totalConfiguredBps))
			if err != nil {
				return err
			}
			t.apply(amount)
			distributed += amount
		}
	}

	if distributed > distributable {
		return fmt.Errorf("%w: distributed %d exceeds distributable %d", ncnerrors.ErrArithmeticOverflow, distributed, distributable)
	}
	remainder := distributable - distributed
	if remainder > 0 && firstNonzero != -1 {
		targets[firstNonzero].apply(remainder)
		distributed += remainder
	}

	br.rewardPool -= distributed
	br.poolRouted = true
	return nil
}

// RouteNcnFeeGroupRewards distributes one NCN fee group's pool across
// operators proportional to their group stake weight, as recorded in the
// epoch snapshot. Only operators who voted for the winning ballot
// participate; non-voters forfeit their share, which instead accrues to
// the DAO base-fee group (§4.7 Stage 1 step 3).
func (br *BaseRouter) RouteNcnFeeGroupRewards(group feemodel.NcnFeeGroup, bb *ballotbox.BallotBox, epoch *snapshot.EpochSnapshot, operators map[common.Address]*snapshot.OperatorSnapshot) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if !br.poolRouted {
		return ncnerrors.ErrPhaseNotReady
	}
	if br.groupRouted[group] {
		return nil
	}
	if !bb.ConsensusReached() {
		return ncnerrors.ErrConsensusNotReached
	}

	pool := br.ncnFeeGroupPools[group]
	if pool == 0 {
		br.groupRouted[group] = true
		return nil
	}

	groupTotal, err := epoch.Total().Group(group)
	if err != nil {
		return err
	}

	voters := bb.WinningVoters()
	sortOperatorsPseudoRandomly(br.Epoch, voters)

	var distributed uint64
	for _, operatorID := range voters {
		op, ok := operators[operatorID]
		if !ok {
			continue
		}
		weight, err := op.Total().Group(group)
		if err != nil {
			return err
		}
		if weight.IsZero() || groupTotal.IsZero() {
			continue
		}
		share, err := floorMulDiv(pool, weight, groupTotal)
		if err != nil {
			return err
		}
		if share == 0 {
			continue
		}
		br.ncnFeeGroupRoutes[group][operatorID] += share
		distributed += share
	}

	// Any sub-lamport rounding remainder, and the entire pool when no voter
	// carried a nonzero group weight, forfeits to the DAO base-fee group
	// per the explicit non-voter-forfeiture rule.
	if distributed > pool {
		return fmt.Errorf("%w: distributed %d exceeds group pool %d", ncnerrors.ErrArithmeticOverflow, distributed, pool)
	}
	forfeited := pool - distributed
	if forfeited > 0 {
		br.baseFeeGroupPools[feemodel.BaseFeeGroupDAO] += forfeited
	}

	br.ncnFeeGroupPools[group] = 0
	br.groupRouted[group] = true
	return nil
}

// sortOperatorsPseudoRandomly orders voters by blake2b(epoch_LE ||
// operator) rather than raw address, so iteration order doesn't
// systematically favor the lexicographically-lowest operator address
// across epochs while staying fully deterministic for a given epoch.
func sortOperatorsPseudoRandomly(epoch uint64, operators []common.Address) {
	keys := make(map[common.Address][32]byte, len(operators))
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], epoch)
	for _, op := range operators {
		keys[op] = blake2b.Sum256(append(epochLE[:], op.Bytes()...))
	}
	sort.Slice(operators, func(i, j int) bool {
		a, b := keys[operators[i]], keys[operators[j]]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// floorMulDiv computes floor(pool * weight / total) via a uint256
// intermediate, since weight and total may both exceed 64 bits.
func floorMulDiv(pool uint64, weight, total *uint256.Int) (uint64, error) {
	if total.IsZero() {
		return 0, ncnerrors.ErrDenominatorIsZero
	}
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(pool), weight)
	if overflow {
		return 0, fmt.Errorf("%w: pool * weight", ncnerrors.ErrArithmeticOverflow)
	}
	quotient := new(uint256.Int).Div(product, total)
	if !quotient.IsUint64() {
		return 0, fmt.Errorf("%w: share does not fit in uint64", ncnerrors.ErrArithmeticOverflow)
	}
	return quotient.Uint64(), nil
}

// DistributeBaseFeeGroupRewards zeroes the group's pool and reports the
// amount that must be transferred to its configured wallet (§4.7 Stage 1
// step 4). Idempotent: a second call with nothing left returns 0, nil.
func (br *BaseRouter) DistributeBaseFeeGroupRewards(group feemodel.BaseFeeGroup) uint64 {
	br.mu.Lock()
	defer br.mu.Unlock()
	amount := br.baseFeeGroupPools[group]
	br.baseFeeGroupPools[group] = 0
	return amount
}

// DistributeBaseNcnRewardRoute zeroes one operator's route entry for an
// NCN fee group and reports the amount that must be transferred into that
// operator's NCN Reward Receiver (§4.7 Stage 1 step 5).
func (br *BaseRouter) DistributeBaseNcnRewardRoute(group feemodel.NcnFeeGroup, operator common.Address) uint64 {
	br.mu.Lock()
	defer br.mu.Unlock()
	amount := br.ncnFeeGroupRoutes[group][operator]
	delete(br.ncnFeeGroupRoutes[group], operator)
	return amount
}

// StillRouting reports whether any base or NCN fee group pool, or any
// operator route entry, still holds undistributed lamports.
func (br *BaseRouter) StillRouting() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	for _, v := range br.baseFeeGroupPools {
		if v != 0 {
			return true
		}
	}
	for _, v := range br.ncnFeeGroupPools {
		if v != 0 {
			return true
		}
	}
	for _, routes := range br.ncnFeeGroupRoutes {
		for _, v := range routes {
			if v != 0 {
				return true
			}
		}
	}
	return false
}

// OperatorRoutes returns the pending route entries for a group, sorted by
// operator address for deterministic iteration in tests and callers.
func (br *BaseRouter) OperatorRoutes(group feemodel.NcnFeeGroup) []OperatorRoute {
	br.mu.Lock()
	defer br.mu.Unlock()
	routes := make([]OperatorRoute, 0, len(br.ncnFeeGroupRoutes[group]))
	for op, amt := range br.ncnFeeGroupRoutes[group] {
		routes = append(routes, OperatorRoute{Operator: op, Amount: amt})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Operator.Cmp(routes[j].Operator) < 0 })
	return routes
}
