package rewardrouter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ballotbox"
	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/snapshot"
	"github.com/ncn-labs/tip-router/internal/stakeweight"
	"github.com/ncn-labs/tip-router/internal/vaultregistry"
	"github.com/ncn-labs/tip-router/internal/weighttable"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func hash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

// TestRouteRewardPoolIgnoresBlockEngineBpsInTheSplit pins down that
// block_engine_bps never enters the base+ncn group split: it is siphoned
// upstream of this router, so the denominator is the sum of configured
// base+ncn group bps alone, and the full pool is consumed with zero
// residual even though the fee schedule's total bps (block engine
// included) is well under MaxFeeBps.
func TestRouteRewardPoolIgnoresBlockEngineBpsInTheSplit(t *testing.T) {
	fee := feemodel.Fee{}
	fee.BlockEngineFeeBps = 1_000 // 10%, irrelevant to this router's split
	fee.BaseFeeBps[feemodel.BaseFeeGroupDAO] = 500
	fee.NcnFeeBps[feemodel.NcnFeeGroupDefault] = 8_500
	schedule := feemodel.NewFeeSchedule(fee)

	br := NewBaseRouter(0)
	if err := br.RouteIncomingRewards(100_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}

	daoShare := br.DistributeBaseFeeGroupRewards(feemodel.BaseFeeGroupDAO)
	ncnPoolRemaining := br.ncnFeeGroupPools[feemodel.NcnFeeGroupDefault]
	residual := br.RewardPoolBalance()

	total := daoShare + ncnPoolRemaining + residual
	if total != 100_000 {
		t.Fatalf("daoShare(%d) + ncnPool(%d) + residual(%d) = %d, want 100000", daoShare, ncnPoolRemaining, residual, total)
	}
	if residual != 0 {
		t.Fatalf("block engine bps must not leave a residual in this router, residual = %d, want 0", residual)
	}
	// split is 500:8500 of the full 100,000, not of a block-engine-reduced
	// remainder: DAO = floor(100000*500/9000) + the sub-lamport remainder.
	if daoShare != 5_556 {
		t.Fatalf("daoShare = %d, want 5556", daoShare)
	}
	if ncnPoolRemaining != 94_444 {
		t.Fatalf("ncnPoolRemaining = %d, want 94444", ncnPoolRemaining)
	}
}

// TestRouteRewardPoolMatchesScenarioOneFeeSplit reproduces the fee split
// from distribute_rewards.rs's single-operator scenario: a 3000-lamport
// pool with block_engine=300bps (siphoned upstream, no bearing on this
// split), dao=270bps, ncn_default=15bps, ncn_jto=15bps. The configured
// base+ncn bps sum to 300, so DAO must receive exactly 2700 and each NCN
// group exactly 150, with zero residual left unrouted.
func TestRouteRewardPoolMatchesScenarioOneFeeSplit(t *testing.T) {
	fee := feemodel.Fee{}
	fee.BlockEngineFeeBps = 300
	fee.BaseFeeBps[feemodel.BaseFeeGroupDAO] = 270
	fee.NcnFeeBps[feemodel.NcnFeeGroupDefault] = 15
	fee.NcnFeeBps[feemodel.NcnFeeGroupJTO] = 15
	schedule := feemodel.NewFeeSchedule(fee)

	br := NewBaseRouter(0)
	if err := br.RouteIncomingRewards(3_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}

	daoShare := br.DistributeBaseFeeGroupRewards(feemodel.BaseFeeGroupDAO)
	lstPool := br.ncnFeeGroupPools[feemodel.NcnFeeGroupDefault]
	jtoPool := br.ncnFeeGroupPools[feemodel.NcnFeeGroupJTO]
	residual := br.RewardPoolBalance()

	if daoShare != 2_700 {
		t.Fatalf("daoShare = %d, want 2700", daoShare)
	}
	if lstPool != 150 {
		t.Fatalf("lstPool = %d, want 150", lstPool)
	}
	if jtoPool != 150 {
		t.Fatalf("jtoPool = %d, want 150", jtoPool)
	}
	if residual != 0 {
		t.Fatalf("residual = %d, want 0", residual)
	}
}

func TestRouteRewardPoolIsIdempotent(t *testing.T) {
	fee := feemodel.Fee{}
	fee.BaseFeeBps[feemodel.BaseFeeGroupDAO] = 10_000
	schedule := feemodel.NewFeeSchedule(fee)

	br := NewBaseRouter(0)
	if err := br.RouteIncomingRewards(1_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("second RouteRewardPool: %v", err)
	}
	if br.baseFeeGroupPools[feemodel.BaseFeeGroupDAO] != 1_000 {
		t.Fatalf("a second RouteRewardPool call should not double-allocate, got %d", br.baseFeeGroupPools[feemodel.BaseFeeGroupDAO])
	}
}

// epochWithOneOperator builds a finalized weight table, epoch snapshot, and
// a single active operator snapshot holding the entire epoch's stake
// weight in NcnFeeGroupDefault.
func epochWithOneOperator(t *testing.T, vaultAmount uint64) (*snapshot.EpochSnapshot, *snapshot.OperatorSnapshot, common.Address) {
	t.Helper()
	mint := hash(1)
	r := vaultregistry.New()
	if err := r.RegisterStMint(mint, feemodel.NcnFeeGroupDefault, 10_000, nil, 1); err != nil {
		t.Fatalf("RegisterStMint: %v", err)
	}
	if err := r.RegisterVault(hash(2), mint, 0, 0); err != nil {
		t.Fatalf("RegisterVault: %v", err)
	}
	tbl, err := weighttable.New(r, 10, 10)
	if err != nil {
		t.Fatalf("weighttable.New: %v", err)
	}
	if err := tbl.SetWeightAdmin(mint, uint256.NewInt(1), 100); err != nil {
		t.Fatalf("SetWeightAdmin: %v", err)
	}

	epoch, err := snapshot.InitializeEpochSnapshot(tbl, 1, feemodel.Fee{})
	if err != nil {
		t.Fatalf("InitializeEpochSnapshot: %v", err)
	}
	operatorID := addr(1)
	op := snapshot.InitializeOperatorSnapshot(0, 0, 0, true, 1)
	if err := op.SnapshotVaultOperatorDelegation(tbl, epoch, 0, uint256.NewInt(vaultAmount)); err != nil {
		t.Fatalf("SnapshotVaultOperatorDelegation: %v", err)
	}
	if !epoch.Finalized() {
		t.Fatalf("epoch snapshot should be finalized after its sole operator finishes")
	}
	return epoch, op, operatorID
}

func TestRouteNcnFeeGroupRewardsPaysOnlyWinningVoter(t *testing.T) {
	epoch, op, operatorID := epochWithOneOperator(t, 1_000)

	bb := ballotbox.New(10)
	weight := *epoch.Total()
	if err := bb.CastVote(operatorID, hash(9), weight, 1, epoch.Total().Total()); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if !bb.ConsensusReached() {
		t.Fatalf("sole voter should reach consensus")
	}

	fee := feemodel.Fee{}
	fee.NcnFeeBps[feemodel.NcnFeeGroupDefault] = 10_000
	schedule := feemodel.NewFeeSchedule(fee)

	br := NewBaseRouter(0)
	if err := br.RouteIncomingRewards(5_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}

	operators := map[common.Address]*snapshot.OperatorSnapshot{operatorID: op}
	if err := br.RouteNcnFeeGroupRewards(feemodel.NcnFeeGroupDefault, bb, epoch, operators); err != nil {
		t.Fatalf("RouteNcnFeeGroupRewards: %v", err)
	}

	routes := br.OperatorRoutes(feemodel.NcnFeeGroupDefault)
	if len(routes) != 1 || routes[0].Operator != operatorID || routes[0].Amount != 5_000 {
		t.Fatalf("routes = %+v, want a single 5000-lamport route to the sole voter", routes)
	}
}

func TestRouteNcnFeeGroupRewardsForfeitsNonVoterShareToDAO(t *testing.T) {
	epoch, _, _ := epochWithOneOperator(t, 1_000)

	bb := ballotbox.New(10)
	// A different operator votes and reaches consensus alone; the operator
	// holding the epoch's stake weight (operatorID) never votes, so its
	// share of the NCN pool must forfeit to the DAO base group.
	otherOperator := addr(2)
	otherWeight := stakeweight.New(uint256.NewInt(1))
	if err := bb.CastVote(otherOperator, hash(9), otherWeight, 1, uint256.NewInt(1)); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if !bb.ConsensusReached() {
		t.Fatalf("sole voter should reach consensus")
	}

	fee := feemodel.Fee{}
	fee.NcnFeeBps[feemodel.NcnFeeGroupDefault] = 10_000
	schedule := feemodel.NewFeeSchedule(fee)

	br := NewBaseRouter(0)
	if err := br.RouteIncomingRewards(5_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := br.RouteRewardPool(&schedule); err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}

	operators := map[common.Address]*snapshot.OperatorSnapshot{}
	if err := br.RouteNcnFeeGroupRewards(feemodel.NcnFeeGroupDefault, bb, epoch, operators); err != nil {
		t.Fatalf("RouteNcnFeeGroupRewards: %v", err)
	}

	routes := br.OperatorRoutes(feemodel.NcnFeeGroupDefault)
	if len(routes) != 0 {
		t.Fatalf("no registered voter held group weight, routes should be empty, got %+v", routes)
	}
	if got := br.DistributeBaseFeeGroupRewards(feemodel.BaseFeeGroupDAO); got != 5_000 {
		t.Fatalf("forfeited share should land in DAO group, got %d, want 5000", got)
	}
}

func TestNcnRouterStage2SplitsOperatorAndVaultPoolExactly(t *testing.T) {
	nr := NewNcnRouter(0, addr(1))
	if err := nr.RouteIncomingRewards(10_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := nr.RouteOperatorRewards(1_000); err != nil { // 10% operator fee
		t.Fatalf("RouteOperatorRewards: %v", err)
	}

	vaults := []VaultStake{
		{VaultID: hash(1), Weight: uint256.NewInt(3)},
		{VaultID: hash(2), Weight: uint256.NewInt(1)},
	}
	stillRouting, err := nr.RouteRewardPool(vaults, 10)
	if err != nil {
		t.Fatalf("RouteRewardPool: %v", err)
	}
	if stillRouting {
		t.Fatalf("a single call with maxIterations=10 over 2 vaults should finish")
	}

	operatorAmount := nr.DistributeOperatorRewards()
	vault1 := nr.DistributeVaultRewardRoute(hash(1))
	vault2 := nr.DistributeVaultRewardRoute(hash(2))

	if total := operatorAmount + vault1 + vault2; total != 10_000 {
		t.Fatalf("operator(%d) + vault1(%d) + vault2(%d) = %d, want 10000", operatorAmount, vault1, vault2, total)
	}
	if operatorAmount != 1_000 {
		t.Fatalf("operatorAmount = %d, want 1000", operatorAmount)
	}
	// vaultPool = 9000, split 3:1 -> 6750 / 2250.
	if vault1 != 6_750 || vault2 != 2_250 {
		t.Fatalf("vault1=%d vault2=%d, want 6750/2250", vault1, vault2)
	}
}

func TestNcnRouterStage2IsResumableAcrossCalls(t *testing.T) {
	nr := NewNcnRouter(0, addr(1))
	if err := nr.RouteIncomingRewards(1_000, 0); err != nil {
		t.Fatalf("RouteIncomingRewards: %v", err)
	}
	if err := nr.RouteOperatorRewards(0); err != nil {
		t.Fatalf("RouteOperatorRewards: %v", err)
	}

	vaults := []VaultStake{
		{VaultID: hash(1), Weight: uint256.NewInt(1)},
		{VaultID: hash(2), Weight: uint256.NewInt(1)},
		{VaultID: hash(3), Weight: uint256.NewInt(1)},
	}

	stillRouting, err := nr.RouteRewardPool(vaults, 1)
	if err != nil {
		t.Fatalf("RouteRewardPool call 1: %v", err)
	}
	if !stillRouting {
		t.Fatalf("processing 1 of 3 vaults with maxIterations=1 should still be routing")
	}

	stillRouting, err = nr.RouteRewardPool(vaults, 1)
	if err != nil {
		t.Fatalf("RouteRewardPool call 2: %v", err)
	}
	if !stillRouting {
		t.Fatalf("processing 2 of 3 vaults should still be routing")
	}

	stillRouting, err = nr.RouteRewardPool(vaults, 1)
	if err != nil {
		t.Fatalf("RouteRewardPool call 3: %v", err)
	}
	if stillRouting {
		t.Fatalf("the third call should complete routing")
	}

	var total uint64
	for _, v := range vaults {
		total += nr.DistributeVaultRewardRoute(v.VaultID)
	}
	if total != 1_000 {
		t.Fatalf("vault routes should sum to the full pool, got %d", total)
	}
}
