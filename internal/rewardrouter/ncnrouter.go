package rewardrouter

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// VaultStake is one vault's stake weight in an NCN fee group, the unit
// RouteRewardPool distributes proportionally across. Callers must pass the
// same slice, in the same order, across every resumed call: the cursor
// indexes into it positionally.
type VaultStake struct {
	VaultID common.Hash
	Weight  *uint256.Int
}

// NcnRouter is the Stage 2 router for one (operator, NCN fee group,
// epoch): it splits that operator's share of the group pool between the
// operator itself and its snapshotted vaults (§4.7 Stage 2).
type NcnRouter struct {
	mu sync.Mutex

	Epoch    uint64
	Operator common.Address

	rewardPool      uint64
	operatorRewards uint64
	vaultPool       uint64
	vaultRoutes     map[common.Hash]uint64

	operatorRouted bool
	vaultTotal     *uint256.Int // total vault weight, fixed at the first RouteRewardPool call
	vaultPoolStart uint64       // vault pool at the first RouteRewardPool call
	cursor         int
}

// NewNcnRouter constructs an empty Stage 2 router for one operator.
func NewNcnRouter(epoch uint64, operator common.Address) *NcnRouter {
	return &NcnRouter{
		Epoch:       epoch,
		Operator:    operator,
		vaultRoutes: make(map[common.Hash]uint64),
	}
}

// RouteIncomingRewards adds receiverBalance-rentCost to the reward pool,
// symmetric to BaseRouter.RouteIncomingRewards (§4.7 Stage 2 step 1).
func (nr *NcnRouter) RouteIncomingRewards(receiverBalance, rentCost uint64) error {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	if rentCost > receiverBalance {
		return fmt.Errorf("%w: rent cost %d exceeds receiver balance %d", ncnerrors.ErrArithmeticUnderflow, rentCost, receiverBalance)
	}
	nr.rewardPool += receiverBalance - rentCost
	return nil
}

// RouteOperatorRewards splits the pool into the operator's fee cut and a
// vault pool for the remainder (§4.7 Stage 2 step 2). Idempotent.
func (nr *NcnRouter) RouteOperatorRewards(operatorFeeBps uint64) error {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	if nr.operatorRouted {
		return nil
	}
	if operatorFeeBps > 10_000 {
		return fmt.Errorf("%w: operator fee %d bps", ncnerrors.ErrFeeCapExceeded, operatorFeeBps)
	}

	fee, err := floorMulDiv(nr.rewardPool, uint256.NewInt(operatorFeeBps), uint256.NewInt(10_000))
	if err != nil {
		return err
	}
	nr.operatorRewards += fee
	nr.vaultPool += nr.rewardPool - fee
	nr.rewardPool = 0
	nr.operatorRouted = true
	return nil
}

// RouteRewardPool distributes vaultPool across vaults proportional to each
// vault's stake weight in this group, processing at most maxIterations
// vaults per call and persisting a cursor so the caller can resume (§4.7
// Stage 2 step 3, §5 cooperative chunking). It reports true while vaults
// remain unprocessed.
func (nr *NcnRouter) RouteRewardPool(vaults []VaultStake, maxIterations int) (stillRouting bool, err error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	if !nr.operatorRouted {
		return false, ncnerrors.ErrPhaseNotReady
	}
	if nr.cursor >= len(vaults) {
		return false, nil
	}

	if nr.vaultTotal == nil {
		total := new(uint256.Int)
		for _, v := range vaults {
			overflowed := false
			total, overflowed = total.AddOverflow(total, v.Weight)
			if overflowed {
				return false, fmt.Errorf("%w: vault weight total", ncnerrors.ErrArithmeticOverflow)
			}
		}
		nr.vaultTotal = total
		nr.vaultPoolStart = nr.vaultPool
	}

	processed := 0
	var distributedThisCall uint64
	for nr.cursor < len(vaults) && processed < maxIterations {
		v := vaults[nr.cursor]
		if !nr.vaultTotal.IsZero() && !v.Weight.IsZero() {
			share, err := floorMulDiv(nr.vaultPoolStart, v.Weight, nr.vaultTotal)
			if err != nil {
				return false, err
			}
			nr.vaultRoutes[v.VaultID] += share
			distributedThisCall += share
		}
		nr.cursor++
		processed++
	}

	if distributedThisCall > nr.vaultPool {
		return false, fmt.Errorf("%w: distributed %d exceeds vault pool %d", ncnerrors.ErrArithmeticOverflow, distributedThisCall, nr.vaultPool)
	}
	nr.vaultPool -= distributedThisCall

	if nr.cursor >= len(vaults) {
		// Final call: any floor-division remainder accrues to the first
		// vault with a nonzero weight, preserving Σroutes == original pool.
		if nr.vaultPool > 0 {
			for _, v := range vaults {
				if !v.Weight.IsZero() {
					nr.vaultRoutes[v.VaultID] += nr.vaultPool
					nr.vaultPool = 0
					break
				}
			}
		}
		return false, nil
	}
	return true, nil
}

// StillRouting reports whether RouteRewardPool has more vaults to process.
func (nr *NcnRouter) StillRouting(totalVaults int) bool {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	return nr.operatorRouted && nr.cursor < totalVaults
}

// DistributeOperatorRewards zeroes the operator's reward balance and
// reports the amount to transfer from the NCN Reward Receiver to the
// operator identity (§4.7 Stage 2 step 4). Idempotent.
func (nr *NcnRouter) DistributeOperatorRewards() uint64 {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	amount := nr.operatorRewards
	nr.operatorRewards = 0
	return amount
}

// DistributeVaultRewardRoute zeroes one vault's route entry and reports
// the amount to transfer to that vault's identity (§4.7 Stage 2 step 5).
// Idempotent: lamports leave the receiver to the correct recipient; any
// SOL->pool-token conversion the real vault performs afterward is out of
// scope here.
func (nr *NcnRouter) DistributeVaultRewardRoute(vaultID common.Hash) uint64 {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	amount := nr.vaultRoutes[vaultID]
	delete(nr.vaultRoutes, vaultID)
	return amount
}
