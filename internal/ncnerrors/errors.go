// Package ncnerrors is the closed error taxonomy of §7: every failure mode
// named in the spec is a sentinel value here, shared across components so
// callers can errors.Is against one stable set instead of each package
// inventing its own near-duplicate. Individual packages still wrap these
// with fmt.Errorf("%w: ...") for context, the way consensus/voting.go does
// with its own Err* family.
package ncnerrors

import "errors"

// Arithmetic errors are always fatal to the enclosing transaction; there is
// never a silent-recovery path.
var (
	ErrDenominatorIsZero = errors.New("ncn: denominator is zero")
	ErrArithmeticOverflow = errors.New("ncn: arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("ncn: arithmetic underflow")
	ErrCast = errors.New("ncn: cast error")
)

// Account / permission errors.
var (
	ErrIncorrectNcnAdmin    = errors.New("ncn: incorrect ncn admin")
	ErrIncorrectFeeAdmin    = errors.New("ncn: incorrect fee admin")
	ErrIncorrectNcn         = errors.New("ncn: incorrect ncn")
	ErrInvalidAccountOwner  = errors.New("ncn: invalid account owner")
	ErrInvalidSeeds         = errors.New("ncn: invalid seeds")
	ErrInvalidDaoWallet     = errors.New("ncn: invalid dao wallet")
)

// State machine errors.
var (
	ErrEpochSnapshotNotFinalized            = errors.New("ncn: epoch snapshot not finalized")
	ErrWeightTableNotFinalized               = errors.New("ncn: weight table not finalized")
	ErrWeightTableAlreadyInitialized         = errors.New("ncn: weight table already initialized")
	ErrConsensusAlreadyReached                = errors.New("ncn: consensus already reached")
	ErrConsensusNotReached                    = errors.New("ncn: consensus not reached")
	ErrVotingNotValid                         = errors.New("ncn: voting not valid")
	ErrCannotCloseAccountNotEnoughEpochs      = errors.New("ncn: cannot close account, not enough epochs elapsed")
	ErrCannotCloseAccountAlreadyClosed        = errors.New("ncn: cannot close account, already closed")
	ErrCannotCloseEpochStateAccount           = errors.New("ncn: cannot close epoch state account yet")
	ErrTrackedMintsLocked                     = errors.New("ncn: tracked mints locked")
)

// Registry errors.
var (
	ErrMintInTable            = errors.New("ncn: mint already in table")
	ErrTooManyMintsForTable   = errors.New("ncn: too many mints for table")
	ErrVaultIndexAlreadyInUse = errors.New("ncn: vault index already in use")
	ErrVaultNotInRegistry     = errors.New("ncn: vault not in registry")
	ErrNoFeedWeightNotSet     = errors.New("ncn: no feed weight not set")
)

// Voting errors.
var (
	ErrDuplicateVoteCast         = errors.New("ncn: duplicate vote cast")
	ErrBallotTallyFull           = errors.New("ncn: ballot tally full")
	ErrTieBreakerAdminInvalid    = errors.New("ncn: tie breaker admin invalid")
	ErrTieBreakerNotInPriorVotes = errors.New("ncn: tie breaker root not in prior votes")
	ErrOperatorAdminInvalid      = errors.New("ncn: operator admin invalid")
)

// Fee errors.
var (
	ErrFeeCapExceeded     = errors.New("ncn: fee cap exceeded")
	ErrInvalidBaseFeeGroup = errors.New("ncn: invalid base fee group")
	ErrInvalidNcnFeeGroup  = errors.New("ncn: invalid ncn fee group")
)

// Oracle errors.
var (
	ErrBadSwitchboardFeed     = errors.New("ncn: bad switchboard feed")
	ErrBadSwitchboardValue    = errors.New("ncn: bad switchboard value")
	ErrStaleSwitchboardFeed   = errors.New("ncn: stale switchboard feed")
	ErrSwitchboardNotRegistered = errors.New("ncn: switchboard feed not registered")
)

// Other errors used by the snapshot engine and registry, named in §4.4/§4.2
// but not otherwise categorized in §7's list.
var (
	ErrNoOperators                        = errors.New("ncn: no operators")
	ErrDuplicateVaultOperatorDelegation    = errors.New("ncn: duplicate vault operator delegation")
	ErrOperatorSnapshotAlreadyFinalized    = errors.New("ncn: operator snapshot already finalized")
	ErrEpochSnapshotAlreadyFinalized       = errors.New("ncn: epoch snapshot already finalized")
	ErrCapacityExceeded                    = errors.New("ncn: capacity exceeded")
	ErrUnknownMint                         = errors.New("ncn: unknown mint")
	ErrInvalidFeeGroup                     = errors.New("ncn: invalid fee group")
	ErrWeightNotSet                        = errors.New("ncn: weight not set")
	ErrWeightAlreadyFinalized              = errors.New("ncn: weight table already finalized")
	ErrWeightTableTooEarly                 = errors.New("ncn: weight table cannot be created before its starting epoch")
	ErrStillRouting                        = errors.New("ncn: router still has unprocessed entries")
	ErrPhaseNotReady                       = errors.New("ncn: epoch not ready to advance to next phase")
	ErrAccountNotClosed                    = errors.New("ncn: sub-account not closed")
	ErrEpochAlreadyClosed                  = errors.New("ncn: epoch already closed (epoch marker exists)")
	ErrRangeOutOfBounds                    = errors.New("ncn: parameter out of allowed range")
)
