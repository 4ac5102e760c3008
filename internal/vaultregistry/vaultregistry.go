// Package vaultregistry implements C2: the mutable per-NCN registry of
// supported stake-token mints and the vaults that hold them, grounded on
// core/src/tracked_mints.rs (its Go analogue, deliberately flattened from a
// fixed on-chain byte array into two capacity-bounded sets).
package vaultregistry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/boundedset"
	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// MaxStMintEntries and MaxVaultEntries are the registry's compile-time
// capacities (§3).
const (
	MaxStMintEntries = 16
	MaxVaultEntries  = 64
)

// StMintEntry describes one supported stake-token mint: its fee group,
// reward multiplier, and the weight source (an oracle feed, a fixed
// fallback weight, or both).
type StMintEntry struct {
	Mint                common.Hash
	FeeGroup            feemodel.NcnFeeGroup
	RewardMultiplierBps uint64
	OracleFeed          common.Hash // zero value means "none"
	NoFeedWeight        uint64      // zero means "none"
}

func (e StMintEntry) hasWeightSource() bool {
	return e.OracleFeed != (common.Hash{}) || e.NoFeedWeight != 0
}

// VaultEntry describes one registered vault and the mint it holds.
type VaultEntry struct {
	VaultID        common.Hash
	SupportedMint  common.Hash
	VaultIndex     uint64
	SlotRegistered uint64
}

// Registry is the mutable per-NCN vault registry of §4.2.
type Registry struct {
	mu     sync.RWMutex
	mints  *boundedset.BoundedSet[StMintEntry]
	vaults *boundedset.BoundedSet[VaultEntry]
}

// New builds an empty registry with the spec's fixed capacities.
func New() *Registry {
	return &Registry{
		mints:  boundedset.New[StMintEntry](MaxStMintEntries),
		vaults: boundedset.New[VaultEntry](MaxVaultEntries),
	}
}

// RegisterStMint adds a new supported mint. oracleFeed may be nil for "no
// feed"; noFeedWeight of 0 means "no fallback". At least one of the two
// must be set.
func (r *Registry) RegisterStMint(mint common.Hash, feeGroup feemodel.NcnFeeGroup, rewardMultiplierBps uint64, oracleFeed *common.Hash, noFeedWeight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(feeGroup) >= feemodel.FeeGroupCount {
		return fmt.Errorf("%w: %d", ncnerrors.ErrInvalidFeeGroup, feeGroup)
	}
	if idx := r.mints.Find(func(e StMintEntry) bool { return e.Mint == mint }); idx != -1 {
		return fmt.Errorf("%w: %s", ncnerrors.ErrMintInTable, mint)
	}

	entry := StMintEntry{
		Mint:                mint,
		FeeGroup:            feeGroup,
		RewardMultiplierBps: rewardMultiplierBps,
		NoFeedWeight:        noFeedWeight,
	}
	if oracleFeed != nil {
		entry.OracleFeed = *oracleFeed
	}
	if !entry.hasWeightSource() {
		return ncnerrors.ErrNoFeedWeightNotSet
	}

	if err := r.mints.Append(entry); err != nil {
		return fmt.Errorf("%w: %s", ncnerrors.ErrTooManyMintsForTable, mint)
	}
	return nil
}

// StMintUpdate carries the optional fields set_st_mint may overwrite; a nil
// field leaves the existing value untouched.
type StMintUpdate struct {
	FeeGroup            *feemodel.NcnFeeGroup
	RewardMultiplierBps *uint64
	OracleFeed          *common.Hash
	ClearOracleFeed     bool
	NoFeedWeight        *uint64
}

// SetStMint mutates a registered mint's optional fields, rejecting unknown
// mints and updates that would leave both weight sources empty.
func (r *Registry) SetStMint(mint common.Hash, update StMintUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.mints.Find(func(e StMintEntry) bool { return e.Mint == mint })
	if idx == -1 {
		return fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, mint)
	}
	entry, _ := r.mints.At(idx)

	if update.FeeGroup != nil {
		if int(*update.FeeGroup) >= feemodel.FeeGroupCount {
			return fmt.Errorf("%w: %d", ncnerrors.ErrInvalidFeeGroup, *update.FeeGroup)
		}
		entry.FeeGroup = *update.FeeGroup
	}
	if update.RewardMultiplierBps != nil {
		entry.RewardMultiplierBps = *update.RewardMultiplierBps
	}
	if update.ClearOracleFeed {
		entry.OracleFeed = common.Hash{}
	}
	if update.OracleFeed != nil {
		entry.OracleFeed = *update.OracleFeed
	}
	if update.NoFeedWeight != nil {
		entry.NoFeedWeight = *update.NoFeedWeight
	}

	if !entry.hasWeightSource() {
		return ncnerrors.ErrNoFeedWeightNotSet
	}

	return r.mints.Replace(idx, entry)
}

// RegisterVault appends a new vault entry. Re-registering an identical
// (vaultID, vaultIndex) pair is a no-op; a vaultIndex claimed by a
// different vault is rejected.
func (r *Registry) RegisterVault(vaultID, supportedMint common.Hash, vaultIndex uint64, slot uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.mints.Find(func(e StMintEntry) bool { return e.Mint == supportedMint }); idx == -1 {
		return fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, supportedMint)
	}

	if existingIdx := r.vaults.Find(func(v VaultEntry) bool { return v.VaultIndex == vaultIndex }); existingIdx != -1 {
		existing, _ := r.vaults.At(existingIdx)
		if existing.VaultID == vaultID {
			return nil
		}
		return fmt.Errorf("%w: index %d", ncnerrors.ErrVaultIndexAlreadyInUse, vaultIndex)
	}

	if err := r.vaults.Append(VaultEntry{
		VaultID:        vaultID,
		SupportedMint:  supportedMint,
		VaultIndex:     vaultIndex,
		SlotRegistered: slot,
	}); err != nil {
		return fmt.Errorf("%w: vault registry is full", ncnerrors.ErrCapacityExceeded)
	}
	return nil
}

// MintCount and VaultCount report the registry's §4.2 invariant bounds.
func (r *Registry) MintCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mints.Len()
}

func (r *Registry) VaultCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vaults.Len()
}

// StMint returns the registered entry for a mint, if any.
func (r *Registry) StMint(mint common.Hash) (StMintEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.mints.Find(func(e StMintEntry) bool { return e.Mint == mint })
	if idx == -1 {
		return StMintEntry{}, false
	}
	e, _ := r.mints.At(idx)
	return e, true
}

// Vault returns the registered entry for a vault index, if any.
func (r *Registry) Vault(vaultIndex uint64) (VaultEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.vaults.Find(func(v VaultEntry) bool { return v.VaultIndex == vaultIndex })
	if idx == -1 {
		return VaultEntry{}, false
	}
	v, _ := r.vaults.At(idx)
	return v, true
}

// Snapshot returns copies of the mint and vault arrays, the only form the
// weight table is allowed to copy them in (§4.3: "copies... verbatim; this
// is the only moment either is copied").
func (r *Registry) Snapshot() ([]StMintEntry, []VaultEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mints := make([]StMintEntry, 0, r.mints.Len())
	r.mints.Each(func(_ int, e StMintEntry) { mints = append(mints, e) })
	vaults := make([]VaultEntry, 0, r.vaults.Len())
	r.vaults.Each(func(_ int, v VaultEntry) { vaults = append(vaults, v) })
	return mints, vaults
}
