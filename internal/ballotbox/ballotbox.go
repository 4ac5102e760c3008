// Package ballotbox implements C5: per-epoch ballot tallying and strict
// 2/3-stake consensus, grounded on the VotingManager pattern of
// consensus/voting.go and program/src/cast_vote.rs's stake accumulation.
package ballotbox

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/stakeweight"
)

// MaxBallots bounds the number of distinct roots a ballot box may tally in
// one epoch; this pack's retrieved source does not carry the upstream
// program's exact MAX_OPERATORS value, so it is fixed here (documented,
// not silently assumed).
const MaxBallots = 256

// ConsensusReachedSentinel is the slot_consensus_reached value before
// consensus, matching core/src/constants.rs::DEFAULT_CONSENSUS_REACHED_SLOT.
const ConsensusReachedSentinel = ^uint64(0)

// Tally is one root's accumulated vote weight.
type Tally struct {
	Root      common.Hash
	Weight    stakeweight.StakeWeights
	TallySlot uint64
}

// VoteRecord is one operator's recorded vote for the epoch.
type VoteRecord struct {
	OperatorID   common.Address
	BallotIndex  int // -1 means no vote cast
	StakeWeights stakeweight.StakeWeights
	SlotVoted    uint64
}

// BallotBox tallies votes for one (NCN, epoch).
type BallotBox struct {
	mu sync.Mutex

	tallies []Tally
	votes   map[common.Address]*VoteRecord

	winningBallotIndex  int
	slotConsensusReached uint64
	tieBreakerSet        bool

	validSlotsAfterConsensus uint64
}

// New constructs an empty ballot box. validSlotsAfterConsensus is the
// post-consensus voting window length from the NCN Config.
func New(validSlotsAfterConsensus uint64) *BallotBox {
	return &BallotBox{
		votes:                    make(map[common.Address]*VoteRecord),
		winningBallotIndex:       -1,
		slotConsensusReached:     ConsensusReachedSentinel,
		validSlotsAfterConsensus: validSlotsAfterConsensus,
	}
}

// ConsensusReached reports whether a winning ballot has been decided,
// either by stake majority or tie-breaker.
func (b *BallotBox) ConsensusReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.winningBallotIndex != -1
}

// WinningRoot returns the consensus root, if any.
func (b *BallotBox) WinningRoot() (common.Hash, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.winningBallotIndex == -1 {
		return common.Hash{}, false
	}
	return b.tallies[b.winningBallotIndex].Root, true
}

// IsVotingValid reports whether currentSlot falls inside the post-consensus
// voting window (always true before consensus is reached).
func (b *BallotBox) IsVotingValid(currentSlot uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.winningBallotIndex == -1 {
		return true
	}
	if b.slotConsensusReached == ConsensusReachedSentinel {
		// Tie-breaker path: no slot window, always valid once decided.
		return true
	}
	return currentSlot <= b.slotConsensusReached+b.validSlotsAfterConsensus
}

func (b *BallotBox) findTallyLocked(root common.Hash) int {
	for i, t := range b.tallies {
		if t.Root == root {
			return i
		}
	}
	return -1
}

// CastVote records an operator's vote for a root, tallying its stake
// weight, then re-evaluates consensus.
func (b *BallotBox) CastVote(operatorID common.Address, root common.Hash, weights stakeweight.StakeWeights, currentSlot uint64, totalEpochStakeWeight *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.winningBallotIndex != -1 {
		if b.slotConsensusReached != ConsensusReachedSentinel && currentSlot > b.slotConsensusReached+b.validSlotsAfterConsensus {
			return ncnerrors.ErrVotingNotValid
		}
		return ncnerrors.ErrConsensusAlreadyReached
	}

	if _, voted := b.votes[operatorID]; voted {
		return fmt.Errorf("%w: operator %s", ncnerrors.ErrDuplicateVoteCast, operatorID)
	}

	idx := b.findTallyLocked(root)
	if idx == -1 {
		if len(b.tallies) >= MaxBallots {
			return ncnerrors.ErrBallotTallyFull
		}
		b.tallies = append(b.tallies, Tally{Root: root, TallySlot: currentSlot})
		idx = len(b.tallies) - 1
	}

	if err := b.tallies[idx].Weight.Increment(&weights); err != nil {
		return err
	}
	b.votes[operatorID] = &VoteRecord{
		OperatorID:   operatorID,
		BallotIndex:  idx,
		StakeWeights: weights,
		SlotVoted:    currentSlot,
	}

	return b.tallyVotesLocked(totalEpochStakeWeight, currentSlot)
}

// tallyVotesLocked re-checks every tally against the strict 2/3 stake
// threshold, evaluated exactly via cross-multiplication (3*weight > 2*total)
// so no intermediate rounding ever enters the comparison, and commits the
// winning ballot on the first tally that clears it.
func (b *BallotBox) tallyVotesLocked(totalEpochStakeWeight *uint256.Int, currentSlot uint64) error {
	twoThirdsTotal, overflow := new(uint256.Int).MulOverflow(totalEpochStakeWeight, uint256.NewInt(2))
	if overflow {
		return fmt.Errorf("%w: total stake weight * 2", ncnerrors.ErrArithmeticOverflow)
	}

	for i, t := range b.tallies {
		threeTimesWeight, overflow := new(uint256.Int).MulOverflow(t.Weight.Total(), uint256.NewInt(3))
		if overflow {
			return fmt.Errorf("%w: tally weight * 3", ncnerrors.ErrArithmeticOverflow)
		}
		if threeTimesWeight.Gt(twoThirdsTotal) {
			b.winningBallotIndex = i
			b.slotConsensusReached = currentSlot
			return nil
		}
	}
	return nil
}

// SetTieBreaker is invoked by the tie-breaker admin once the epoch has
// stalled without consensus. root must already have at least one vote
// tallied against it.
func (b *BallotBox) SetTieBreaker(root common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.winningBallotIndex != -1 {
		return ncnerrors.ErrConsensusAlreadyReached
	}

	idx := b.findTallyLocked(root)
	if idx == -1 {
		return ncnerrors.ErrTieBreakerNotInPriorVotes
	}

	b.winningBallotIndex = idx
	b.tieBreakerSet = true
	return nil
}

// TieBreakerSet reports whether the winning ballot was decided by the tie
// breaker rather than stake majority.
func (b *BallotBox) TieBreakerSet() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tieBreakerSet
}

// SlotConsensusReached returns the slot consensus was reached at, or the
// sentinel if consensus has not been reached by stake majority.
func (b *BallotBox) SlotConsensusReached() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slotConsensusReached
}

// WinningVoters returns the operators who voted for the consensus root.
// Operators who voted for a different (losing) root, or never voted at
// all, are excluded: §4.7 forfeits their NCN-fee-group share to the DAO.
func (b *BallotBox) WinningVoters() []common.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.winningBallotIndex == -1 {
		return nil
	}
	voters := make([]common.Address, 0, len(b.votes))
	for operatorID, rec := range b.votes {
		if rec.BallotIndex == b.winningBallotIndex {
			voters = append(voters, operatorID)
		}
	}
	return voters
}
