package ballotbox

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
	"github.com/ncn-labs/tip-router/internal/stakeweight"
)

func operator(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func root(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func weight(v uint64) stakeweight.StakeWeights {
	return stakeweight.New(uint256.NewInt(v))
}

func TestConsensusRequiresStrictlyMoreThanTwoThirds(t *testing.T) {
	bb := New(10)
	total := uint256.NewInt(3)

	// exactly 2/3 (2 of 3) must NOT reach consensus (strict rule).
	if err := bb.CastVote(operator(1), root(1), weight(2), 100, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if bb.ConsensusReached() {
		t.Fatalf("2/3 exactly should not reach consensus under the strict rule")
	}

	// the second voter pushes the tally to 3/3 > 2/3: consensus now holds.
	if err := bb.CastVote(operator(2), root(1), weight(1), 101, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if !bb.ConsensusReached() {
		t.Fatalf("3/3 should reach consensus")
	}
	gotRoot, ok := bb.WinningRoot()
	if !ok || gotRoot != root(1) {
		t.Fatalf("winning root = %x, %v; want root(1)", gotRoot, ok)
	}
	if bb.SlotConsensusReached() != 101 {
		t.Fatalf("slot_consensus_reached = %d, want 101", bb.SlotConsensusReached())
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	bb := New(10)
	total := uint256.NewInt(100)
	if err := bb.CastVote(operator(1), root(1), weight(10), 1, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	err := bb.CastVote(operator(1), root(2), weight(10), 2, total)
	if !errors.Is(err, ncnerrors.ErrDuplicateVoteCast) {
		t.Fatalf("got %v, want ErrDuplicateVoteCast", err)
	}
}

func TestBallotTallyFull(t *testing.T) {
	bb := New(10)
	total := uint256.NewInt(uint64(MaxBallots) * 10)
	for i := 0; i < MaxBallots; i++ {
		op := operator(0)
		op[18] = byte(i / 256)
		op[19] = byte(i % 256)
		r := root(0)
		r[30] = byte(i / 256)
		r[31] = byte(i % 256)
		if err := bb.CastVote(op, r, weight(1), 1, total); err != nil {
			t.Fatalf("CastVote %d: %v", i, err)
		}
	}
	op := operator(1)
	op[0] = 0xff
	fresh := root(1)
	fresh[0] = 0xff // a root none of the MaxBallots tallies holds
	err := bb.CastVote(op, fresh, weight(1), 1, total)
	if !errors.Is(err, ncnerrors.ErrBallotTallyFull) {
		t.Fatalf("got %v, want ErrBallotTallyFull", err)
	}
}

func TestVoteAfterConsensusWithinWindowRejectedAsAlreadyReached(t *testing.T) {
	bb := New(10)
	total := uint256.NewInt(3)
	if err := bb.CastVote(operator(1), root(1), weight(2), 100, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if err := bb.CastVote(operator(2), root(1), weight(1), 100, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	err := bb.CastVote(operator(3), root(2), weight(1), 105, total)
	if !errors.Is(err, ncnerrors.ErrConsensusAlreadyReached) {
		t.Fatalf("got %v, want ErrConsensusAlreadyReached", err)
	}
}

func TestVoteAfterWindowRejectedAsVotingNotValid(t *testing.T) {
	bb := New(5)
	total := uint256.NewInt(3)
	if err := bb.CastVote(operator(1), root(1), weight(2), 100, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if err := bb.CastVote(operator(2), root(1), weight(1), 100, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	err := bb.CastVote(operator(3), root(1), weight(1), 200, total)
	if !errors.Is(err, ncnerrors.ErrVotingNotValid) {
		t.Fatalf("got %v, want ErrVotingNotValid", err)
	}
}

func TestSetTieBreakerRequiresPriorVote(t *testing.T) {
	bb := New(10)
	err := bb.SetTieBreaker(root(9))
	if !errors.Is(err, ncnerrors.ErrTieBreakerNotInPriorVotes) {
		t.Fatalf("got %v, want ErrTieBreakerNotInPriorVotes", err)
	}
}

func TestSetTieBreakerPicksWinnerWithoutConsensusSlot(t *testing.T) {
	bb := New(10)
	total := uint256.NewInt(100)
	if err := bb.CastVote(operator(1), root(1), weight(10), 1, total); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	if bb.ConsensusReached() {
		t.Fatalf("10/100 should not reach consensus")
	}
	if err := bb.SetTieBreaker(root(1)); err != nil {
		t.Fatalf("SetTieBreaker: %v", err)
	}
	if !bb.ConsensusReached() || !bb.TieBreakerSet() {
		t.Fatalf("tie breaker should have decided consensus")
	}
	if bb.SlotConsensusReached() != ConsensusReachedSentinel {
		t.Fatalf("slot_consensus_reached should remain sentinel after tie-break, got %d", bb.SlotConsensusReached())
	}
}
