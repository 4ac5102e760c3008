// Package keeper wires C1-C8 together across epochs: the long-running
// process described in §6's "CLI surface" non-goal as a "keeper loop that
// walks the state machine to completion for each epoch." No business
// logic lives here that isn't already in internal/*; this package only
// sequences calls into those components and guards them against
// concurrent CLI invocations, the way consensus/voting.go's VotingManager
// guards its rounds map with a single mutex over a map of per-round state.
package keeper

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ballotbox"
	"github.com/ncn-labs/tip-router/internal/epochstate"
	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnconfig"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/rewardrouter"
	"github.com/ncn-labs/tip-router/internal/snapshot"
	"github.com/ncn-labs/tip-router/internal/vaultregistry"
	"github.com/ncn-labs/tip-router/internal/weighttable"
)

// ncnRouterKey identifies one operator's Stage 2 router within one NCN fee
// group, for one epoch.
type ncnRouterKey struct {
	group    feemodel.NcnFeeGroup
	operator common.Address
}

// Epoch bundles every per-(NCN, epoch) object the state machine gates.
type Epoch struct {
	Number uint64

	State     *epochstate.EpochState
	Weights   *weighttable.Table
	EpochSnap *snapshot.EpochSnapshot
	Operators map[common.Address]*snapshot.OperatorSnapshot
	Ballots   *ballotbox.BallotBox
	Base      *rewardrouter.BaseRouter
	Ncn       map[ncnRouterKey]*rewardrouter.NcnRouter
}

// Keeper owns one NCN's shared, cross-epoch state (config, vault registry,
// epoch marker seal) plus a handle per epoch currently in flight.
type Keeper struct {
	mu sync.Mutex

	NCN      common.Hash
	Config   *ncnconfig.Config
	Registry *vaultregistry.Registry
	Markers  *epochstate.MarkerRegistry

	epochs  map[uint64]*Epoch
	metrics *Metrics
}

// New constructs a keeper for one NCN. metrics may be nil to disable
// metrics collection (e.g. in tests).
func New(ncn common.Hash, cfg *ncnconfig.Config, registry *vaultregistry.Registry, metrics *Metrics) *Keeper {
	return &Keeper{
		NCN:      ncn,
		Config:   cfg,
		Registry: registry,
		Markers:  epochstate.NewMarkerRegistry(),
		epochs:   make(map[uint64]*Epoch),
		metrics:  metrics,
	}
}

func (k *Keeper) epoch(epoch uint64) (*Epoch, error) {
	e, ok := k.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d not initialized", ncnerrors.ErrPhaseNotReady, epoch)
	}
	return e, nil
}

// InitializeEpochState opens (NCN, epoch): rejects epochs whose marker
// already exists (§4.8, scenario 6) and constructs the EpochState and
// Weight Table at PhaseSetWeight.
func (k *Keeper) InitializeEpochState(epoch uint64) (*Epoch, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.Markers.CheckNotSealed(epoch); err != nil {
		return nil, err
	}
	if _, exists := k.epochs[epoch]; exists {
		return nil, ncnerrors.ErrWeightTableAlreadyInitialized
	}

	table, err := weighttable.New(k.Registry, epoch, k.Config.StartingValidEpoch)
	if err != nil {
		return nil, err
	}

	e := &Epoch{
		Number:    epoch,
		State:     epochstate.New(epoch, k.Config.ValidSlotsAfterConsensus),
		Weights:   table,
		Operators: make(map[common.Address]*snapshot.OperatorSnapshot),
		Ncn:       make(map[ncnRouterKey]*rewardrouter.NcnRouter),
	}
	if err := e.State.OpenAccount(epochstate.AccountWeightTable); err != nil {
		return nil, err
	}
	k.epochs[epoch] = e
	log.Info("epoch state initialized", "ncn", k.NCN, "epoch", epoch)
	return e, nil
}

// SetWeightAdmin sets a mint's weight directly and advances SetWeight ->
// Snapshot once every mint in the table has one (§4.3, §4.8).
func (k *Keeper) SetWeightAdmin(epoch uint64, mint common.Hash, weight *uint256.Int, slot uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if err := e.Weights.SetWeightAdmin(mint, weight, slot); err != nil {
		return err
	}
	if e.Weights.Finalized() {
		if err := e.State.MarkWeightTableFinalized(); err != nil {
			return err
		}
		log.Info("weight table finalized", "ncn", k.NCN, "epoch", epoch)
	}
	return nil
}

// InitializeEpochSnapshot opens the Epoch Snapshot account (§4.4 step 1).
func (k *Keeper) InitializeEpochSnapshot(epoch uint64, operatorCount int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	fee := k.Config.Fees.CurrentFee(epoch)
	snap, err := snapshot.InitializeEpochSnapshot(e.Weights, operatorCount, fee)
	if err != nil {
		return err
	}
	if err := e.State.OpenAccount(epochstate.AccountEpochSnapshot); err != nil {
		return err
	}
	e.EpochSnap = snap
	return nil
}

// InitializeOperatorSnapshot opens one operator's snapshot for the epoch
// and, if inactive, immediately finalizes it with zero weight.
func (k *Keeper) InitializeOperatorSnapshot(epoch uint64, operator common.Address, ncnOperatorIndex, operatorIndex, operatorFeeBps uint64, isActive bool, vaultCount int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if _, exists := e.Operators[operator]; exists {
		return ncnerrors.ErrOperatorSnapshotAlreadyFinalized
	}
	// AccountOperatorSnapshot is one shared lifecycle slot for every
	// operator snapshot of the epoch: open it on the first one.
	if e.State.AccountStatus(epochstate.AccountOperatorSnapshot) == epochstate.StatusDNE {
		if err := e.State.OpenAccount(epochstate.AccountOperatorSnapshot); err != nil {
			return err
		}
	}

	op := snapshot.InitializeOperatorSnapshot(ncnOperatorIndex, operatorIndex, operatorFeeBps, isActive, vaultCount)
	e.Operators[operator] = op

	if !isActive {
		if err := op.FinalizeInactive(e.EpochSnap); err != nil {
			return err
		}
		k.afterOperatorFinalized(e, epoch)
	}
	return nil
}

// SnapshotVaultOperatorDelegation folds one (vault, operator) delegation
// into the operator's running total (§4.4 step 2).
func (k *Keeper) SnapshotVaultOperatorDelegation(epoch uint64, operator common.Address, vaultIndex uint64, amount *uint256.Int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	op, ok := e.Operators[operator]
	if !ok {
		return fmt.Errorf("%w: operator %s", ncnerrors.ErrNoOperators, operator)
	}
	if err := op.SnapshotVaultOperatorDelegation(e.Weights, e.EpochSnap, vaultIndex, amount); err != nil {
		return err
	}
	k.afterOperatorFinalized(e, epoch)
	return nil
}

// afterOperatorFinalized advances Snapshot -> Vote once the epoch
// snapshot reports every operator accounted for.
func (k *Keeper) afterOperatorFinalized(e *Epoch, epoch uint64) {
	if e.EpochSnap.Finalized() && e.State.Phase() == epochstate.PhaseSnapshot {
		if err := e.State.MarkEpochSnapshotFinalized(); err == nil {
			log.Info("epoch snapshot finalized", "ncn", k.NCN, "epoch", epoch)
		}
	}
}

// InitializeBallotBox opens the Ballot Box account (§4.5).
func (k *Keeper) InitializeBallotBox(epoch uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if err := e.State.OpenAccount(epochstate.AccountBallotBox); err != nil {
		return err
	}
	e.Ballots = ballotbox.New(k.Config.ValidSlotsAfterConsensus)
	return nil
}

// CastVote records an operator's vote and advances Vote ->
// PostVoteCooldown if it brings the ballot box to consensus.
func (k *Keeper) CastVote(epoch uint64, operator common.Address, root common.Hash, currentSlot uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	op, ok := e.Operators[operator]
	if !ok {
		return fmt.Errorf("%w: operator %s", ncnerrors.ErrNoOperators, operator)
	}
	weights := *op.Total()
	total := e.EpochSnap.Total().Total()

	if err := e.Ballots.CastVote(operator, root, weights, currentSlot, total); err != nil {
		return err
	}
	if k.metrics != nil {
		k.metrics.BallotsTallied.Inc()
	}
	return k.maybeRecordConsensus(e, epoch)
}

// SetTieBreaker invokes the tie-breaker path and advances the phase the
// same way a stake-majority vote would (§4.5).
func (k *Keeper) SetTieBreaker(epoch uint64, root common.Hash) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if err := e.Ballots.SetTieBreaker(root); err != nil {
		return err
	}
	return k.maybeRecordConsensus(e, epoch)
}

func (k *Keeper) maybeRecordConsensus(e *Epoch, epoch uint64) error {
	if !e.Ballots.ConsensusReached() || e.State.Phase() != epochstate.PhaseVote {
		return nil
	}
	if err := e.State.MarkConsensusReached(e.Ballots.SlotConsensusReached(), e.Ballots.TieBreakerSet()); err != nil {
		return err
	}
	if k.metrics != nil {
		k.metrics.ConsensusReached.Inc()
	}
	log.Info("consensus reached", "ncn", k.NCN, "epoch", epoch, "tie_breaker", e.Ballots.TieBreakerSet())
	return nil
}

// AdvancePastCooldown advances PostVoteCooldown -> Upload once
// currentSlot has passed the post-consensus voting window (§4.8).
func (k *Keeper) AdvancePastCooldown(epoch uint64, currentSlot uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	return e.State.AdvancePastCooldown(currentSlot)
}

// MarkRootsUploaded advances Upload -> Distribute (§4.8).
func (k *Keeper) MarkRootsUploaded(epoch uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	return e.State.MarkRootsUploaded()
}

// InitializeBaseRewardRouter opens the Base Reward Router account (§4.7).
func (k *Keeper) InitializeBaseRewardRouter(epoch uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if err := e.State.OpenAccount(epochstate.AccountBaseRewardRouter); err != nil {
		return err
	}
	e.Base = rewardrouter.NewBaseRouter(epoch)
	return nil
}

// RouteBaseRewards pulls lamports into the base router's pool and splits
// it across base and NCN fee groups (§4.7 Stage 1 steps 1-2).
func (k *Keeper) RouteBaseRewards(epoch uint64, receiverBalance, rentCost uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if err := e.Base.RouteIncomingRewards(receiverBalance, rentCost); err != nil {
		return err
	}
	if err := e.Base.RouteRewardPool(&k.Config.Fees); err != nil {
		return err
	}
	if k.metrics != nil {
		k.metrics.LamportsRouted.Add(float64(receiverBalance - rentCost))
	}
	return nil
}

// RouteNcnFeeGroupRewards splits one NCN fee group's pool across the
// winning ballot's voters (§4.7 Stage 1 step 3).
func (k *Keeper) RouteNcnFeeGroupRewards(epoch uint64, group feemodel.NcnFeeGroup) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	return e.Base.RouteNcnFeeGroupRewards(group, e.Ballots, e.EpochSnap, e.Operators)
}

// DistributeBaseRewards zeroes a base-fee group's pool, reporting the
// amount to transfer (§4.7 Stage 1 step 4).
func (k *Keeper) DistributeBaseRewards(epoch uint64, group feemodel.BaseFeeGroup) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return 0, err
	}
	return e.Base.DistributeBaseFeeGroupRewards(group), nil
}

// DistributeBaseNcnRewardRoute zeroes one operator's NCN-group route entry
// in the base router, reporting the amount due its NCN Reward Receiver
// (§4.7 Stage 1 step 5).
func (k *Keeper) DistributeBaseNcnRewardRoute(epoch uint64, group feemodel.NcnFeeGroup, operator common.Address) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return 0, err
	}
	return e.Base.DistributeBaseNcnRewardRoute(group, operator), nil
}

// InitializeNcnRewardRouter opens one operator's Stage 2 router for a fee
// group (§4.7 Stage 2).
func (k *Keeper) InitializeNcnRewardRouter(epoch uint64, group feemodel.NcnFeeGroup, operator common.Address) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	key := ncnRouterKey{group: group, operator: operator}
	if _, exists := e.Ncn[key]; exists {
		return ncnerrors.ErrWeightTableAlreadyInitialized
	}
	// AccountNcnRewardRouter is one shared lifecycle slot covering every
	// (operator, fee group) router for the epoch collectively, since §4.8's
	// close ordering only needs to know "some NCN reward router still
	// open", not track each one individually: open it on the first router,
	// leave it open for the rest.
	if e.State.AccountStatus(epochstate.AccountNcnRewardRouter) == epochstate.StatusDNE {
		if err := e.State.OpenAccount(epochstate.AccountNcnRewardRouter); err != nil {
			return err
		}
	}
	e.Ncn[key] = rewardrouter.NewNcnRouter(epoch, operator)
	return nil
}

// RouteNcnRewards splits one operator's reward pool between itself and its
// vaults, processing at most maxIterations vaults per call (§4.7 Stage 2,
// §5 cooperative chunking).
func (k *Keeper) RouteNcnRewards(epoch uint64, group feemodel.NcnFeeGroup, operator common.Address, incoming, operatorFeeBps uint64, vaults []rewardrouter.VaultStake, maxIterations int) (stillRouting bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return false, err
	}
	nr, ok := e.Ncn[ncnRouterKey{group: group, operator: operator}]
	if !ok {
		return false, fmt.Errorf("%w: ncn router for operator %s", ncnerrors.ErrPhaseNotReady, operator)
	}
	if incoming > 0 {
		if err := nr.RouteIncomingRewards(incoming, 0); err != nil {
			return false, err
		}
	}
	if err := nr.RouteOperatorRewards(operatorFeeBps); err != nil {
		return false, err
	}
	stillRouting, err = nr.RouteRewardPool(vaults, maxIterations)
	if err != nil {
		return false, err
	}
	if k.metrics != nil {
		k.metrics.LamportsRouted.Add(float64(incoming))
	}
	return stillRouting, nil
}

// DistributeNcnOperatorRewards zeroes an operator's Stage 2 fee balance,
// reporting the amount due the operator (§4.7 Stage 2 step 4).
func (k *Keeper) DistributeNcnOperatorRewards(epoch uint64, group feemodel.NcnFeeGroup, operator common.Address) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return 0, err
	}
	nr, ok := e.Ncn[ncnRouterKey{group: group, operator: operator}]
	if !ok {
		return 0, fmt.Errorf("%w: ncn router for operator %s", ncnerrors.ErrPhaseNotReady, operator)
	}
	return nr.DistributeOperatorRewards(), nil
}

// DistributeNcnVaultRewards zeroes one vault's Stage 2 route entry,
// reporting the amount due that vault (§4.7 Stage 2 step 5).
func (k *Keeper) DistributeNcnVaultRewards(epoch uint64, group feemodel.NcnFeeGroup, operator common.Address, vaultID common.Hash) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return 0, err
	}
	nr, ok := e.Ncn[ncnRouterKey{group: group, operator: operator}]
	if !ok {
		return 0, fmt.Errorf("%w: ncn router for operator %s", ncnerrors.ErrPhaseNotReady, operator)
	}
	return nr.DistributeVaultRewardRoute(vaultID), nil
}

// CheckRewardsFullyDistributed advances Distribute -> Done once the base
// router and every per-operator NCN router report nothing left to route
// (§4.8's final predicate).
func (k *Keeper) CheckRewardsFullyDistributed(epoch uint64, vaultCounts map[feemodel.NcnFeeGroup]map[common.Address]int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if e.Base.StillRouting() {
		return ncnerrors.ErrStillRouting
	}
	for key, nr := range e.Ncn {
		count := vaultCounts[key.group][key.operator]
		if nr.StillRouting(count) {
			return ncnerrors.ErrStillRouting
		}
	}
	return e.State.MarkRewardsDistributed()
}

// CloseSubAccount closes one of an epoch's sub-accounts once PhaseDone has
// been reached (§4.8).
func (k *Keeper) CloseSubAccount(epoch uint64, kind epochstate.AccountKind) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	return e.State.CloseSubAccount(kind)
}

// CloseEpochState closes the EpochState account itself, seals the epoch's
// marker to prevent resurrection, and evicts the epoch from the keeper's
// in-flight set (§4.8, P6, scenario 6).
func (k *Keeper) CloseEpochState(epoch uint64, epochsAfterConsensusBeforeClose, currentEpoch uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return err
	}
	if !e.State.CanCloseEpochAccounts(epochsAfterConsensusBeforeClose, currentEpoch) {
		return ncnerrors.ErrCannotCloseAccountNotEnoughEpochs
	}
	if err := e.State.CloseEpochState(); err != nil {
		return err
	}
	k.Markers.Seal(epoch)
	delete(k.epochs, epoch)
	if k.metrics != nil {
		k.metrics.EpochsClosed.Inc()
	}
	log.Info("epoch closed", "ncn", k.NCN, "epoch", epoch)
	return nil
}

// Phase reports an in-flight epoch's current phase.
func (k *Keeper) Phase(epoch uint64) (epochstate.Phase, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, err := k.epoch(epoch)
	if err != nil {
		return 0, err
	}
	return e.State.Phase(), nil
}
