// Package weighttable implements C3: the per-(NCN, epoch) table of mint
// weights used to turn vault delegations into stake weight, grounded on
// program/src/switchboard_set_weight.rs and program/src/admin_set_weight.rs.
package weighttable

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/vaultregistry"
)

// WeightPrecision is the fixed-point scale applied to an oracle's decimal
// price before it is stored as an integer weight.
const WeightPrecision = 1_000_000_000

// MaxStaleSlots bounds how far behind the current slot an oracle feed's
// result_slot may be before it is rejected as stale.
const MaxStaleSlots = 500

// WeightEntry is one mint's weight-setting record: the registry snapshot it
// was copied from, plus the weight itself and when it was set.
type WeightEntry struct {
	Mint        vaultregistry.StMintEntry
	Weight      *uint256.Int
	SlotSet     uint64
	SlotUpdated uint64
}

func (e WeightEntry) isSet() bool {
	return e.SlotSet > 0
}

// OracleFeed resolves a feed identifier to a decimal price and the slot at
// which that price was observed, the Go stand-in for a parsed
// PullFeedAccountData.
type OracleFeed interface {
	Quote(feedID common.Hash) (price float64, resultSlot uint64, err error)
}

// Table is the weight table for one (NCN, epoch): an immutable copy of the
// registry's mint and vault arrays at construction time, plus a parallel
// weight-setting record per mint.
type Table struct {
	mu sync.RWMutex

	epoch   uint64
	vaults  []vaultregistry.VaultEntry
	weights []WeightEntry
}

// New constructs the weight table for (NCN, epoch), copying the registry's
// current mint and vault arrays verbatim. This copy happens exactly once;
// later registry changes never retroactively affect an existing table.
// epoch must be no earlier than startingValidEpoch.
func New(registry *vaultregistry.Registry, epoch, startingValidEpoch uint64) (*Table, error) {
	if epoch < startingValidEpoch {
		return nil, fmt.Errorf("%w: epoch %d before starting epoch %d", ncnerrors.ErrWeightTableTooEarly, epoch, startingValidEpoch)
	}

	mints, vaults := registry.Snapshot()
	weights := make([]WeightEntry, len(mints))
	for i, m := range mints {
		weights[i] = WeightEntry{Mint: m}
	}

	return &Table{epoch: epoch, vaults: vaults, weights: weights}, nil
}

func (t *Table) findLocked(mint common.Hash) int {
	for i, w := range t.weights {
		if w.Mint.Mint == mint {
			return i
		}
	}
	return -1
}

// SetWeightAdmin sets a mint's weight directly, the admin path of §4.3.
func (t *Table) SetWeightAdmin(mint common.Hash, weight *uint256.Int, slot uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setWeightLocked(mint, weight, slot)
}

// SetWeightFromOracle resolves the mint's registered weight source (an
// oracle feed or, absent that, a fixed fallback) and writes the resulting
// weight, the oracle/fallback path of §4.3.
func (t *Table) SetWeightFromOracle(feed OracleFeed, feedID common.Hash, mint common.Hash, currentSlot uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.findLocked(mint)
	if idx == -1 {
		return fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, mint)
	}
	entry := t.weights[idx].Mint

	var weight *uint256.Int
	if entry.OracleFeed == (common.Hash{}) {
		if entry.NoFeedWeight == 0 {
			return ncnerrors.ErrNoFeedWeightNotSet
		}
		weight = uint256.NewInt(entry.NoFeedWeight)
	} else {
		if entry.OracleFeed != feedID {
			return ncnerrors.ErrSwitchboardNotRegistered
		}
		price, resultSlot, err := feed.Quote(feedID)
		if err != nil {
			return fmt.Errorf("%w: %v", ncnerrors.ErrBadSwitchboardFeed, err)
		}
		if currentSlot > resultSlot+MaxStaleSlots {
			return fmt.Errorf("%w: result slot %d, current slot %d", ncnerrors.ErrStaleSwitchboardFeed, resultSlot, currentSlot)
		}
		if price < 0 {
			return fmt.Errorf("%w: negative oracle price", ncnerrors.ErrBadSwitchboardValue)
		}
		scaled := new(big.Float).Mul(big.NewFloat(price), big.NewFloat(WeightPrecision))
		roundedInt, _ := new(big.Float).Add(scaled, big.NewFloat(0.5)).Int(nil)
		var overflow bool
		weight, overflow = uint256.FromBig(roundedInt)
		if overflow {
			return fmt.Errorf("%w: oracle weight", ncnerrors.ErrArithmeticOverflow)
		}
	}

	return t.setWeightLocked(mint, weight, currentSlot)
}

func (t *Table) setWeightLocked(mint common.Hash, weight *uint256.Int, slot uint64) error {
	idx := t.findLocked(mint)
	if idx == -1 {
		return fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, mint)
	}
	if t.weights[idx].isSet() {
		// slot_set is immutable once non-zero; only slot_updated and the
		// weight value itself can change on a later call.
		t.weights[idx].Weight = weight
		t.weights[idx].SlotUpdated = slot
		return nil
	}
	t.weights[idx].Weight = weight
	t.weights[idx].SlotSet = slot
	t.weights[idx].SlotUpdated = slot
	return nil
}

// Finalized reports whether every mint entry has a non-zero SlotSet.
func (t *Table) Finalized() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, w := range t.weights {
		if !w.isSet() {
			return false
		}
	}
	return len(t.weights) > 0
}

// GetWeight returns the weight set for a mint.
func (t *Table) GetWeight(mint common.Hash) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.findLocked(mint)
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ncnerrors.ErrUnknownMint, mint)
	}
	if !t.weights[idx].isSet() {
		return nil, ncnerrors.ErrWeightNotSet
	}
	return new(uint256.Int).Set(t.weights[idx].Weight), nil
}

// CheckRegistryForVault reports whether a vault index was present in the
// table's frozen vault snapshot.
func (t *Table) CheckRegistryForVault(vaultIndex uint64) (vaultregistry.VaultEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, v := range t.vaults {
		if v.VaultIndex == vaultIndex {
			return v, true
		}
	}
	return vaultregistry.VaultEntry{}, false
}

// MintEntry returns the frozen registry snapshot for a mint, as copied at
// construction time.
func (t *Table) MintEntry(mint common.Hash) (vaultregistry.StMintEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.findLocked(mint)
	if idx == -1 {
		return vaultregistry.StMintEntry{}, false
	}
	return t.weights[idx].Mint, true
}

// VaultCount returns the frozen vault array's length, used to seed the
// epoch snapshot's vault_count (§4.4 step 1).
func (t *Table) VaultCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vaults)
}

// Epoch returns the epoch this table was constructed for.
func (t *Table) Epoch() uint64 {
	return t.epoch
}
