// Package ncnconfig implements the NCN Config record of §3: admin
// identities and the numeric parameters governing the voting and
// close-out windows, grounded on program/src/admin_initialize_config.go
// and program/src/admin_set_parameters.rs.
package ncnconfig

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/feemodel"
	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// Range bounds for the admin-tunable parameters. The upstream program
// enforces these via MIN_*/MAX_* constants in constants.rs; this pack does
// not carry their exact values, so they are fixed here at conservative
// defaults (documented as an explicit decision, not a guess left
// unrecorded).
const (
	MinEpochsBeforeStall = 1
	MaxEpochsBeforeStall = 10

	MinEpochsAfterConsensusBeforeClose = 1
	MaxEpochsAfterConsensusBeforeClose = 10

	MinValidSlotsAfterConsensus = 1
	MaxValidSlotsAfterConsensus = 864_000
)

// Config is the per-NCN configuration record.
type Config struct {
	NCN             common.Hash
	FeeAdmin        common.Address
	TieBreakerAdmin common.Address

	Fees feemodel.FeeSchedule

	StartingValidEpoch uint64

	EpochsBeforeStall                uint64
	EpochsAfterConsensusBeforeClose  uint64
	ValidSlotsAfterConsensus         uint64
}

// New constructs a Config, validating the admin-tunable parameters against
// their allowed ranges.
func New(ncn common.Hash, feeAdmin, tieBreakerAdmin common.Address, fees feemodel.FeeSchedule, startingValidEpoch, epochsBeforeStall, epochsAfterConsensusBeforeClose, validSlotsAfterConsensus uint64) (*Config, error) {
	c := &Config{
		NCN:                             ncn,
		FeeAdmin:                        feeAdmin,
		TieBreakerAdmin:                 tieBreakerAdmin,
		Fees:                            fees,
		StartingValidEpoch:              startingValidEpoch,
		EpochsBeforeStall:               epochsBeforeStall,
		EpochsAfterConsensusBeforeClose: epochsAfterConsensusBeforeClose,
		ValidSlotsAfterConsensus:        validSlotsAfterConsensus,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the config's numeric parameters against their allowed
// ranges, the way admin_initialize_config.rs does before committing.
func (c *Config) Validate() error {
	if err := inRange("epochs_before_stall", c.EpochsBeforeStall, MinEpochsBeforeStall, MaxEpochsBeforeStall); err != nil {
		return err
	}
	if err := inRange("epochs_after_consensus_before_close", c.EpochsAfterConsensusBeforeClose, MinEpochsAfterConsensusBeforeClose, MaxEpochsAfterConsensusBeforeClose); err != nil {
		return err
	}
	if err := inRange("valid_slots_after_consensus", c.ValidSlotsAfterConsensus, MinValidSlotsAfterConsensus, MaxValidSlotsAfterConsensus); err != nil {
		return err
	}
	return nil
}

func inRange(field string, v, lo, hi uint64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s=%d not in [%d, %d]", ncnerrors.ErrRangeOutOfBounds, field, v, lo, hi)
	}
	return nil
}

// SetParameters applies an admin_set_parameters-style partial update: a nil
// pointer leaves that field untouched. Every field is range-checked before
// any are committed.
func (c *Config) SetParameters(epochsBeforeStall, validSlotsAfterConsensus *uint64) error {
	trial := *c
	if epochsBeforeStall != nil {
		trial.EpochsBeforeStall = *epochsBeforeStall
	}
	if validSlotsAfterConsensus != nil {
		trial.ValidSlotsAfterConsensus = *validSlotsAfterConsensus
	}
	if err := trial.Validate(); err != nil {
		return err
	}
	*c = trial
	return nil
}
