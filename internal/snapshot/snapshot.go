// Package snapshot implements C4: the per-epoch capture of operator and
// vault-delegation stake weight, grounded on core/src/stake_weight.rs and
// the epoch_snapshot / operator_snapshot accounts it feeds.
package snapshot

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/stakeweight"
	"github.com/ncn-labs/tip-router/internal/weighttable"
)

// EpochSnapshot aggregates stake weight and operator registration progress
// for one (NCN, epoch).
type EpochSnapshot struct {
	mu sync.Mutex

	OperatorCount int
	VaultCount    int
	Fee           feemodel.Fee

	registeredOperators int
	finalized            bool
	total                stakeweight.StakeWeights
}

// InitializeEpochSnapshot requires the epoch's weight table to be
// finalized; it copies the fee schedule active at that epoch and records
// the operator and vault counts (§4.4 step 1).
func InitializeEpochSnapshot(table *weighttable.Table, operatorCount int, fee feemodel.Fee) (*EpochSnapshot, error) {
	if !table.Finalized() {
		return nil, ncnerrors.ErrWeightTableNotFinalized
	}
	if operatorCount == 0 {
		return nil, ncnerrors.ErrNoOperators
	}
	return &EpochSnapshot{
		OperatorCount: operatorCount,
		VaultCount:    table.VaultCount(),
		Fee:           fee,
	}, nil
}

// Finalized reports whether every operator has registered.
func (e *EpochSnapshot) Finalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// Total returns a copy of the aggregate stake weight accumulated so far.
func (e *EpochSnapshot) Total() *stakeweight.StakeWeights {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.total
	return &total
}

// RegisteredOperatorCount returns how many operators have been folded into
// the epoch total, active or not.
func (e *EpochSnapshot) RegisteredOperatorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registeredOperators
}

// absorb adds an operator's finalized weights into the epoch total and
// advances the registered count, finalizing the snapshot once every
// operator has been accounted for. Called with the operator's weights
// already final, whether the operator was active or not.
func (e *EpochSnapshot) absorb(weights stakeweight.StakeWeights) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return ncnerrors.ErrEpochSnapshotAlreadyFinalized
	}
	if err := e.total.Increment(&weights); err != nil {
		return err
	}
	e.registeredOperators++
	if e.registeredOperators == e.OperatorCount {
		e.finalized = true
	}
	return nil
}

// OperatorSnapshot tracks one operator's delegations for one (NCN, epoch).
type OperatorSnapshot struct {
	mu sync.Mutex

	NcnOperatorIndex uint64
	OperatorIndex    uint64
	OperatorFeeBps   uint64
	IsActive         bool

	vaultCount int
	seen       map[uint64]struct{}
	total      stakeweight.StakeWeights
	finalized  bool
}

// InitializeOperatorSnapshot records the operator's identity and activity
// state for the epoch. An inactive operator still occupies a slot in the
// epoch snapshot's registered count, but contributes zero stake weight and
// is finalized immediately via FinalizeInactive.
func InitializeOperatorSnapshot(ncnOperatorIndex, operatorIndex uint64, operatorFeeBps uint64, isActive bool, vaultCount int) *OperatorSnapshot {
	return &OperatorSnapshot{
		NcnOperatorIndex: ncnOperatorIndex,
		OperatorIndex:    operatorIndex,
		OperatorFeeBps:   operatorFeeBps,
		IsActive:         isActive,
		vaultCount:       vaultCount,
		seen:             make(map[uint64]struct{}),
	}
}

// Total returns a copy of the operator's accumulated stake weight.
func (o *OperatorSnapshot) Total() *stakeweight.StakeWeights {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := o.total
	return &total
}

// FinalizeInactive folds a zero-weight contribution for an inactive
// operator directly into the epoch snapshot (§4.4 step 3).
func (o *OperatorSnapshot) FinalizeInactive(epoch *EpochSnapshot) error {
	o.mu.Lock()
	if o.IsActive {
		o.mu.Unlock()
		return fmt.Errorf("operator %d is active, cannot finalize as inactive", o.OperatorIndex)
	}
	if o.finalized {
		o.mu.Unlock()
		return ncnerrors.ErrOperatorSnapshotAlreadyFinalized
	}
	o.finalized = true
	o.mu.Unlock()

	return epoch.absorb(stakeweight.StakeWeights{})
}

// SnapshotVaultOperatorDelegation records one (vault, operator) delegation:
// it looks up the vault and its mint's weight in the frozen weight table,
// computes the delegation's stake weight and reward-scaled contribution,
// and folds it into the operator's running total. Once every vault the
// operator is expected to report has been recorded, the operator snapshot
// is finalized and its total is folded into the epoch snapshot.
func (o *OperatorSnapshot) SnapshotVaultOperatorDelegation(table *weighttable.Table, epoch *EpochSnapshot, vaultIndex uint64, delegationActiveAmount *uint256.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.finalized {
		return ncnerrors.ErrOperatorSnapshotAlreadyFinalized
	}
	if _, dup := o.seen[vaultIndex]; dup {
		return ncnerrors.ErrDuplicateVaultOperatorDelegation
	}

	vault, ok := table.CheckRegistryForVault(vaultIndex)
	if !ok {
		return fmt.Errorf("%w: vault index %d", ncnerrors.ErrVaultNotInRegistry, vaultIndex)
	}

	weight, err := table.GetWeight(vault.SupportedMint)
	if err != nil {
		return err
	}

	stakeWeightRaw, overflow := new(uint256.Int).MulOverflow(delegationActiveAmount, weight)
	if overflow {
		return fmt.Errorf("%w: delegation amount * mint weight", ncnerrors.ErrArithmeticOverflow)
	}

	mintEntry, ok := table.MintEntry(vault.SupportedMint)
	if !ok {
		return fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, vault.SupportedMint)
	}

	sw, err := stakeweight.Snapshot(mintEntry.FeeGroup, stakeWeightRaw, mintEntry.RewardMultiplierBps)
	if err != nil {
		return err
	}

	if err := o.total.Increment(&sw); err != nil {
		return err
	}
	o.seen[vaultIndex] = struct{}{}

	if len(o.seen) == o.vaultCount {
		o.finalized = true
		return epoch.absorb(o.total)
	}
	return nil
}
