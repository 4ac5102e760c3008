// Package epochstate implements C8: the linear per-epoch state machine that
// gates every other component. It is the sole place phase is derived from —
// no component elsewhere in this module infers "phase >= X" from its own
// local fields, per §5's ordering guarantee. Grounded in shape on the
// teacher's epoch/committee manager: a mutex-guarded map keyed by a small
// identifier plus a chronological order slice, generalized here from
// per-slot committee bookkeeping to per-sub-account status tracking.
package epochstate

import (
	"fmt"
	"sync"

	"github.com/ncn-labs/tip-router/internal/ncnerrors"
)

// Phase is the epoch's current position in the linear state machine.
type Phase int

const (
	PhaseSetWeight Phase = iota
	PhaseSnapshot
	PhaseVote
	PhasePostVoteCooldown
	PhaseUpload
	PhaseDistribute
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSetWeight:
		return "SetWeight"
	case PhaseSnapshot:
		return "Snapshot"
	case PhaseVote:
		return "Vote"
	case PhasePostVoteCooldown:
		return "PostVoteCooldown"
	case PhaseUpload:
		return "Upload"
	case PhaseDistribute:
		return "Distribute"
	case PhaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// AccountKind identifies one of the per-epoch sub-accounts the state
// machine tracks lifecycle status for. EpochState itself is not a member:
// its own status is the Phase above, not an entry in the map.
type AccountKind int

const (
	AccountWeightTable AccountKind = iota
	AccountEpochSnapshot
	AccountOperatorSnapshot
	AccountBallotBox
	AccountBaseRewardRouter
	AccountNcnRewardRouter
	accountKindCount
)

func (k AccountKind) String() string {
	switch k {
	case AccountWeightTable:
		return "WeightTable"
	case AccountEpochSnapshot:
		return "EpochSnapshot"
	case AccountOperatorSnapshot:
		return "OperatorSnapshot"
	case AccountBallotBox:
		return "BallotBox"
	case AccountBaseRewardRouter:
		return "BaseRewardRouter"
	case AccountNcnRewardRouter:
		return "NcnRewardRouter"
	default:
		return "Unknown"
	}
}

// SubAccountStatus mirrors §3's per-epoch account lifecycle, collapsed to
// the three states §4.8's close-order check actually needs.
type SubAccountStatus int

const (
	StatusDNE SubAccountStatus = iota
	StatusOpen
	StatusClosed
)

func (s SubAccountStatus) String() string {
	switch s {
	case StatusDNE:
		return "DNE"
	case StatusOpen:
		return "Open"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EpochState is the (NCN, epoch) status record: current phase, per-sub-
// account status, and the bookkeeping each transition predicate reads.
type EpochState struct {
	mu sync.Mutex

	Epoch uint64
	phase Phase

	accounts [accountKindCount]SubAccountStatus

	slotConsensusReached     uint64
	wasTieBreakerSet         bool
	validSlotsAfterConsensus uint64

	// Set by MarkRewardsDistributed once the base router and every
	// per-operator NCN router report rewards_processed == total_rewards
	// and !still_routing (Distribute -> Done's predicate); tracked here
	// rather than re-queried from rewardrouter, since EpochState is the
	// sole source of phase truth.
	allRewardsDistributed bool

	// Set once every tip-distribution PDA the NCN roots for this epoch has
	// had its merkle root uploaded, or the post-upload cooldown elapsed.
	allRootsUploaded bool

	closed bool
}

const consensusReachedSentinel = ^uint64(0)

// New constructs an EpochState at PhaseSetWeight with every sub-account
// DNE. validSlotsAfterConsensus comes from the NCN Config, the same value
// the ballot box for this epoch is constructed with.
func New(epoch uint64, validSlotsAfterConsensus uint64) *EpochState {
	return &EpochState{
		Epoch:                    epoch,
		phase:                    PhaseSetWeight,
		slotConsensusReached:     consensusReachedSentinel,
		validSlotsAfterConsensus: validSlotsAfterConsensus,
	}
}

// Phase returns the epoch's current phase.
func (e *EpochState) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// OpenAccount marks a sub-account as allocated. Re-opening an already-open
// or already-closed account is rejected: each sub-account is created
// exactly once per epoch.
func (e *EpochState) OpenAccount(kind AccountKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.accounts[kind] != StatusDNE {
		return fmt.Errorf("%w: %s already %s", ncnerrors.ErrWeightTableAlreadyInitialized, kind, e.accounts[kind])
	}
	e.accounts[kind] = StatusOpen
	return nil
}

// AccountStatus reports a sub-account's current lifecycle status.
func (e *EpochState) AccountStatus(kind AccountKind) SubAccountStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accounts[kind]
}

// MarkWeightTableFinalized advances SetWeight -> Snapshot once the weight
// table has been finalized elsewhere (§4.8: "weight_table finalized").
func (e *EpochState) MarkWeightTableFinalized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseSetWeight {
		return ncnerrors.ErrPhaseNotReady
	}
	e.phase = PhaseSnapshot
	return nil
}

// MarkEpochSnapshotFinalized advances Snapshot -> Vote once the epoch
// snapshot has been finalized (§4.8: "epoch_snapshot finalized").
func (e *EpochState) MarkEpochSnapshotFinalized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseSnapshot {
		return ncnerrors.ErrPhaseNotReady
	}
	e.phase = PhaseVote
	return nil
}

// MarkConsensusReached advances Vote -> PostVoteCooldown once the ballot
// box reports consensus (by stake majority or tie-breaker). slotReached is
// the sentinel value when consensus came from the tie-breaker path, mirroring
// ballotbox.BallotBox.SlotConsensusReached.
func (e *EpochState) MarkConsensusReached(slotReached uint64, tieBreakerSet bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseVote {
		return ncnerrors.ErrPhaseNotReady
	}
	e.slotConsensusReached = slotReached
	e.wasTieBreakerSet = tieBreakerSet
	e.phase = PhasePostVoteCooldown
	return nil
}

// AdvancePastCooldown advances PostVoteCooldown -> Upload once
// currentSlot has passed the post-consensus voting window (§4.8:
// "current_slot > slot_consensus_reached + valid_slots_after_consensus").
// The tie-breaker path has no slot window (slot_consensus_reached stays at
// the sentinel) and so is always past cooldown.
func (e *EpochState) AdvancePastCooldown(currentSlot uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhasePostVoteCooldown {
		return ncnerrors.ErrPhaseNotReady
	}
	if e.slotConsensusReached != consensusReachedSentinel &&
		currentSlot <= e.slotConsensusReached+e.validSlotsAfterConsensus {
		return ncnerrors.ErrPhaseNotReady
	}
	e.phase = PhaseUpload
	return nil
}

// MarkRootsUploaded records that every tip-distribution PDA this NCN roots
// for this epoch has had its merkle root uploaded, or the post-upload
// cooldown has elapsed, satisfying the Upload -> Distribute predicate.
func (e *EpochState) MarkRootsUploaded() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseUpload {
		return ncnerrors.ErrPhaseNotReady
	}
	e.allRootsUploaded = true
	e.phase = PhaseDistribute
	return nil
}

// MarkRewardsDistributed advances Distribute -> Done once the base router
// and every per-operator NCN router report rewards_processed ==
// total_rewards and !still_routing (§4.8's final predicate).
func (e *EpochState) MarkRewardsDistributed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseDistribute {
		return ncnerrors.ErrPhaseNotReady
	}
	e.allRewardsDistributed = true
	e.phase = PhaseDone
	return nil
}

// CloseSubAccount marks a sub-account Closed. Only accounts currently Open
// may be closed, and only once the epoch has reached PhaseDone: closing
// accounts mid-epoch would let phase be inferred from absence rather than
// the explicit EpochState record.
func (e *EpochState) CloseSubAccount(kind AccountKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseDone {
		return ncnerrors.ErrPhaseNotReady
	}
	switch e.accounts[kind] {
	case StatusClosed:
		return ncnerrors.ErrCannotCloseAccountAlreadyClosed
	case StatusDNE:
		return ncnerrors.ErrAccountNotClosed
	}
	e.accounts[kind] = StatusClosed
	return nil
}

// CanCloseEpochAccounts reports whether this epoch's accounts are eligible
// for closing: the phase is at least PostVoteCooldown and this state's own
// epoch number plus epochsAfterConsensusBeforeClose is strictly less than
// currentEpoch. The count starts from that epoch number, not from the epoch
// in which consensus was reached; this state does not record the latter.
func (e *EpochState) CanCloseEpochAccounts(epochsAfterConsensusBeforeClose, currentEpoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase < PhasePostVoteCooldown {
		return false
	}
	return e.Epoch+epochsAfterConsensusBeforeClose < currentEpoch
}

// CloseEpochState closes the EpochState account itself. Every other
// sub-account for this epoch must already be Closed (P6's ordering
// invariant); closing EpochState is permanent and is the caller's cue to
// create the epoch marker that prevents resurrection (internal/keeper
// owns actually recording the marker).
func (e *EpochState) CloseEpochState() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ncnerrors.ErrCannotCloseAccountAlreadyClosed
	}
	for kind, status := range e.accounts {
		if status != StatusClosed {
			return fmt.Errorf("%w: %s", ncnerrors.ErrCannotCloseEpochStateAccount, AccountKind(kind))
		}
	}
	e.closed = true
	return nil
}

// Closed reports whether this EpochState has been closed.
func (e *EpochState) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// MarkerRegistry tracks sealed (NCN, epoch) pairs: once CloseEpochState
// succeeds for an epoch, its marker is recorded here and every later
// attempt to construct a fresh EpochState for that same epoch is rejected,
// permanently, per §3's "After close of the epoch-state account, the
// Epoch Marker is created, permanently sealing the epoch."
type MarkerRegistry struct {
	mu     sync.Mutex
	sealed map[uint64]bool
}

// NewMarkerRegistry constructs an empty registry, one per NCN.
func NewMarkerRegistry() *MarkerRegistry {
	return &MarkerRegistry{sealed: make(map[uint64]bool)}
}

// Seal records an epoch marker. Called once CloseEpochState has succeeded.
func (r *MarkerRegistry) Seal(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed[epoch] = true
}

// CheckNotSealed rejects initialization of any (NCN, epoch) whose marker
// already exists (scenario 6: "attempting InitializeEpochState(NCN, E)
// fails" after E has been closed).
func (r *MarkerRegistry) CheckNotSealed(epoch uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed[epoch] {
		return fmt.Errorf("%w: epoch %d", ncnerrors.ErrEpochAlreadyClosed, epoch)
	}
	return nil
}
