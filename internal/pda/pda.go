// Package pda implements the seed-derivation helpers of §6. This is an
// in-memory re-implementation, not a Solana program, so address derivation
// is modeled as a deterministic sha256-keyed hash rather than
// find_program_address's curve-point-exclusion search; the
// domain-separation shape each canonical seed list describes — purpose
// tag, ncn_id, epoch, operator_id, group — is preserved exactly, so two
// components reaching for "the weight table address for epoch E" always
// agree and two different purposes never collide.
package pda

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/feemodel"
)

func derive(seeds ...[]byte) common.Hash {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	return common.BytesToHash(h.Sum(nil))
}

func epochLE(epoch uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], epoch)
	return b[:]
}

// Config derives the NCN Config address: ["config", ncn_id].
func Config(ncnID common.Address) common.Hash {
	return derive([]byte("config"), ncnID.Bytes())
}

// VaultRegistry derives the Vault Registry address: ["vault_registry", ncn_id].
func VaultRegistry(ncnID common.Address) common.Hash {
	return derive([]byte("vault_registry"), ncnID.Bytes())
}

// WeightTable derives the Weight Table address: ["weight_table", ncn_id, epoch_LE].
func WeightTable(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("weight_table"), ncnID.Bytes(), epochLE(epoch))
}

// EpochState derives the Epoch State address: ["epoch_state", ncn_id, epoch_LE].
func EpochState(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("epoch_state"), ncnID.Bytes(), epochLE(epoch))
}

// EpochSnapshot derives the Epoch Snapshot address: ["epoch_snapshot", ncn_id, epoch_LE].
func EpochSnapshot(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("epoch_snapshot"), ncnID.Bytes(), epochLE(epoch))
}

// OperatorSnapshot derives the Operator Snapshot address:
// ["operator_snapshot", operator_id, ncn_id, epoch_LE].
func OperatorSnapshot(operatorID, ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("operator_snapshot"), operatorID.Bytes(), ncnID.Bytes(), epochLE(epoch))
}

// BallotBox derives the Ballot Box address: ["ballot_box", ncn_id, epoch_LE].
func BallotBox(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("ballot_box"), ncnID.Bytes(), epochLE(epoch))
}

// BaseRewardRouter derives the Base Reward Router address:
// ["base_reward_router", ncn_id, epoch_LE].
func BaseRewardRouter(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("base_reward_router"), ncnID.Bytes(), epochLE(epoch))
}

// BaseRewardReceiver derives the Base Reward Receiver address:
// ["base_reward_receiver", ncn_id, epoch_LE].
func BaseRewardReceiver(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("base_reward_receiver"), ncnID.Bytes(), epochLE(epoch))
}

// EpochMarker derives the Epoch Marker address: ["epoch_marker", ncn_id, epoch_LE].
func EpochMarker(ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte("epoch_marker"), ncnID.Bytes(), epochLE(epoch))
}

// NcnRewardRouter derives the NCN Reward Router address:
// [ncn_fee_group_byte, "ncn_reward_router", operator_id, ncn_id, epoch_LE].
func NcnRewardRouter(group feemodel.NcnFeeGroup, operatorID, ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte{byte(group)}, []byte("ncn_reward_router"), operatorID.Bytes(), ncnID.Bytes(), epochLE(epoch))
}

// NcnRewardReceiver derives the NCN Reward Receiver address:
// [ncn_fee_group_byte, "ncn_reward_receiver", operator_id, ncn_id, epoch_LE].
func NcnRewardReceiver(group feemodel.NcnFeeGroup, operatorID, ncnID common.Address, epoch uint64) common.Hash {
	return derive([]byte{byte(group)}, []byte("ncn_reward_receiver"), operatorID.Bytes(), ncnID.Bytes(), epochLE(epoch))
}

// AccountPayer derives the Account Payer address: ["account_payer", ncn_id].
func AccountPayer(ncnID common.Address) common.Hash {
	return derive([]byte("account_payer"), ncnID.Bytes())
}
