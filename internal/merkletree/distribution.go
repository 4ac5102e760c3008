// distribution.go builds the per-validator claim tree and the top-level
// meta tree that operators vote on, per §4.6.
package merkletree

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// Delegation is one staker's delegation into a validator's tip distribution
// account.
type Delegation struct {
	StakerID          common.Address
	WithdrawerID      common.Address
	StakeAccountID    common.Address
	LamportsDelegated uint64
}

// TipDistributionAccount is the per-validator input to the claim tree
// builder: its identity, commission, and the epoch's total tips.
type TipDistributionAccount struct {
	ID            common.Hash
	Authority     common.Address
	CommissionBps uint64
	Epoch         uint64
	TotalTips     uint64
	Delegations   []Delegation
}

// ClaimLeaf is one leaf of a validator claim tree: a claimant and the
// lamport amount it is entitled to.
type ClaimLeaf struct {
	Claimant          common.Address
	ClaimStatusPubkey common.Hash
	Amount            uint64
}

func claimStatusPubkey(claimant common.Address, tda common.Hash) common.Hash {
	return HashLeaf(append(append([]byte{}, claimant[:]...), tda[:]...))
}

func encodeClaimLeaf(leaf ClaimLeaf) []byte {
	buf := make([]byte, 0, 20+32+8)
	buf = append(buf, leaf.Claimant[:]...)
	buf = append(buf, leaf.ClaimStatusPubkey[:]...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], leaf.Amount)
	return append(buf, amt[:]...)
}

// ValidatorTreeResult is the built claim tree plus the summary values the
// meta tree leaf embeds.
type ValidatorTreeResult struct {
	Tree          *Tree
	Leaves        []ClaimLeaf
	Root          common.Hash
	MaxTotalClaim uint64
	MaxNumNodes   uint64
}

// BuildValidatorTree computes protocol fee, validator commission, and
// per-delegation shares (§4.6 steps 1-4), builds the leaf set (step 5), and
// returns the resulting tree plus its summary fields.
func BuildValidatorTree(tda TipDistributionAccount, adjustedTotalFeesBps uint64) (*ValidatorTreeResult, error) {
	if adjustedTotalFeesBps > 10_000 || tda.CommissionBps > 10_000 {
		return nil, fmt.Errorf("%w: fee bps out of range", ncnerrors.ErrFeeCapExceeded)
	}

	protocolFee := floorMulDivU64(tda.TotalTips, adjustedTotalFeesBps, 10_000)
	validatorCommission := floorMulDivU64(tda.TotalTips, tda.CommissionBps, 10_000)
	if protocolFee+validatorCommission > tda.TotalTips {
		return nil, fmt.Errorf("%w: protocol fee + commission exceeds total tips", ncnerrors.ErrArithmeticOverflow)
	}
	remaining := tda.TotalTips - protocolFee - validatorCommission

	var totalDelegated uint64
	for _, d := range tda.Delegations {
		totalDelegated += d.LamportsDelegated
	}

	leaves := make([]ClaimLeaf, 0, len(tda.Delegations)+2)
	leaves = append(leaves, ClaimLeaf{
		Claimant:          protocolFeeClaimant(tda.ID),
		ClaimStatusPubkey: claimStatusPubkey(protocolFeeClaimant(tda.ID), tda.ID),
		Amount:            protocolFee,
	})
	leaves = append(leaves, ClaimLeaf{
		Claimant:          tda.Authority,
		ClaimStatusPubkey: claimStatusPubkey(tda.Authority, tda.ID),
		Amount:            validatorCommission,
	})
	for _, d := range tda.Delegations {
		var share uint64
		if totalDelegated > 0 {
			share = floorMulDivU64(remaining, d.LamportsDelegated, totalDelegated)
		}
		leaves = append(leaves, ClaimLeaf{
			Claimant:          d.StakerID,
			ClaimStatusPubkey: claimStatusPubkey(d.StakerID, tda.ID),
			Amount:            share,
		})
	}

	hashes := make([]common.Hash, len(leaves))
	var maxTotalClaim uint64
	for i, l := range leaves {
		hashes[i] = HashLeaf(encodeClaimLeaf(l))
		maxTotalClaim += l.Amount
	}

	tree, err := Build(hashes)
	if err != nil {
		return nil, err
	}

	return &ValidatorTreeResult{
		Tree:          tree,
		Leaves:        leaves,
		Root:          tree.Root(),
		MaxTotalClaim: maxTotalClaim,
		MaxNumNodes:   uint64(len(leaves)),
	}, nil
}

// protocolFeeClaimant derives a stable pseudo-address for the NCN's
// protocol-fee PDA from the tip distribution account identity, the Go
// stand-in for the on-chain PDA (see package pda).
func protocolFeeClaimant(tda common.Hash) common.Address {
	h := HashLeaf(append([]byte("protocol-fee"), tda[:]...))
	var addr common.Address
	copy(addr[:], h[:20])
	return addr
}

// floorMulDivU64 computes floor(a*b/denom) without overflow, using a
// uint256 intermediate since a*b may exceed 64 bits.
func floorMulDivU64(a, b, denom uint64) uint64 {
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := new(uint256.Int).Div(product, uint256.NewInt(denom))
	return quotient.Uint64()
}

// MetaLeafInput is one validator's entry in the top-level meta tree.
type MetaLeafInput struct {
	TipDistributionAccountID common.Hash
	ValidatorMerkleRoot      common.Hash
	MaxTotalClaim            uint64
	MaxNumNodes              uint64
}

func encodeMetaLeaf(in MetaLeafInput) []byte {
	buf := make([]byte, 0, 32+32+8+8)
	buf = append(buf, in.TipDistributionAccountID[:]...)
	buf = append(buf, in.ValidatorMerkleRoot[:]...)
	var claim, nodes [8]byte
	binary.LittleEndian.PutUint64(claim[:], in.MaxTotalClaim)
	binary.LittleEndian.PutUint64(nodes[:], in.MaxNumNodes)
	buf = append(buf, claim[:]...)
	return append(buf, nodes[:]...)
}

// BuildMetaTree builds the top-level tree whose leaves are one per
// validator tree (§4.6, "Top-level (meta) tree").
func BuildMetaTree(inputs []MetaLeafInput) (*Tree, error) {
	hashes := make([]common.Hash, len(inputs))
	for i, in := range inputs {
		hashes[i] = HashLeaf(encodeMetaLeaf(in))
	}
	return Build(hashes)
}
