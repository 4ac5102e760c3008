// Package feemodel implements C1: block-engine / base / NCN fee composition
// in basis points, double-buffered so an update only takes effect on the
// epoch after it is submitted (§4.1, P7).
package feemodel

import (
	"fmt"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// MaxFeeBps is the basis-point denominator (10_000 == 100%).
const MaxFeeBps = 10_000

// FeeGroupCount is the fixed number of slots in each of the base and NCN
// fee group arrays (§3 Vault Registry / §4.1).
const FeeGroupCount = 8

// BaseFeeGroup indexes the 8-slot base fee array. Group 0 is the DAO;
// the remainder are reserved for future allocation, named the way
// core/src/base_fee_group.rs names them.
type BaseFeeGroup uint8

const (
	BaseFeeGroupDAO BaseFeeGroup = iota
	BaseFeeGroupReserved1
	BaseFeeGroupReserved2
	BaseFeeGroupReserved3
	BaseFeeGroupReserved4
	BaseFeeGroupReserved5
	BaseFeeGroupReserved6
	BaseFeeGroupReserved7
)

// ParseBaseFeeGroup validates a raw group index against §7's
// ErrInvalidBaseFeeGroup.
func ParseBaseFeeGroup(group uint8) (BaseFeeGroup, error) {
	if group >= FeeGroupCount {
		return 0, fmt.Errorf("%w: %d", ncnerrors.ErrInvalidBaseFeeGroup, group)
	}
	return BaseFeeGroup(group), nil
}

func (g BaseFeeGroup) String() string {
	if g == BaseFeeGroupDAO {
		return "DAO"
	}
	return fmt.Sprintf("Reserved%d", uint8(g))
}

// AllBaseFeeGroups returns the 8 group indices in order.
func AllBaseFeeGroups() []BaseFeeGroup {
	groups := make([]BaseFeeGroup, FeeGroupCount)
	for i := range groups {
		groups[i] = BaseFeeGroup(i)
	}
	return groups
}

// NcnFeeGroup indexes the 8-slot NCN fee array. Group 0 is Default, group 1
// is JTO, the remainder are reserved, matching
// core/src/ncn_fee_group.rs::NcnFeeGroupType.
type NcnFeeGroup uint8

const (
	NcnFeeGroupDefault NcnFeeGroup = iota
	NcnFeeGroupJTO
	NcnFeeGroupReserved2
	NcnFeeGroupReserved3
	NcnFeeGroupReserved4
	NcnFeeGroupReserved5
	NcnFeeGroupReserved6
	NcnFeeGroupReserved7
)

// ParseNcnFeeGroup validates a raw group index against §7's
// ErrInvalidNcnFeeGroup.
func ParseNcnFeeGroup(group uint8) (NcnFeeGroup, error) {
	if group >= FeeGroupCount {
		return 0, fmt.Errorf("%w: %d", ncnerrors.ErrInvalidNcnFeeGroup, group)
	}
	return NcnFeeGroup(group), nil
}

func (g NcnFeeGroup) String() string {
	switch g {
	case NcnFeeGroupDefault:
		return "Default"
	case NcnFeeGroupJTO:
		return "JTO"
	default:
		return fmt.Sprintf("Reserved%d", uint8(g))
	}
}

// AllNcnFeeGroups returns the 8 group indices in order.
func AllNcnFeeGroups() []NcnFeeGroup {
	groups := make([]NcnFeeGroup, FeeGroupCount)
	for i := range groups {
		groups[i] = NcnFeeGroup(i)
	}
	return groups
}
