package staking

import (
	"errors"
	"fmt"
)

// Error categories. Every failure returned by the engine wraps exactly one of
// these, so callers can classify with errors.Is without matching message text.
var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("staking: validation")
	// ErrState marks operations that conflict with current ledger state.
	ErrState = errors.New("staking: state")
	// ErrAuthorization marks callers lacking the required role.
	ErrAuthorization = errors.New("staking: authorization")
	// ErrArithmetic marks accrual or balance math that left the supported
	// integer range. The offending operation is rejected, nothing wraps.
	ErrArithmetic = errors.New("staking: arithmetic")
)

var (
	errAmountNotPositive = fmt.Errorf("%w: amount must be positive", ErrValidation)
	errBelowMinStake     = fmt.Errorf("%w: amount below pool minimum", ErrValidation)
	errInvalidRewardRate = fmt.Errorf("%w: reward rate must be positive", ErrValidation)
	errInvalidMinStake   = fmt.Errorf("%w: minimum stake must be positive", ErrValidation)
	errInvalidAsset      = fmt.Errorf("%w: asset reference must not be empty", ErrValidation)

	errPoolExists        = fmt.Errorf("%w: pool already exists", ErrState)
	errPoolInactive      = fmt.Errorf("%w: pool inactive", ErrState)
	errPositionNotFound  = fmt.Errorf("%w: no active position", ErrState)
	errInsufficientStake = fmt.Errorf("%w: withdrawal exceeds staked amount", ErrState)
	errLockupActive      = fmt.Errorf("%w: lockup period not elapsed", ErrState)
	errReentrantCall     = fmt.Errorf("%w: reentrant pool mutation", ErrState)

	errNotAuthorized = fmt.Errorf("%w: caller lacks required role", ErrAuthorization)

	errOverflow = fmt.Errorf("%w: value exceeds 256 bits", ErrArithmetic)

	errNilState = errors.New("staking engine: state not configured")
	errNilClock = errors.New("staking engine: clock not configured")
)

// ErrPoolNotFound is returned when an operation references an unknown pool.
// It wraps ErrState but is exported so callers can distinguish missing pools
// from other state conflicts.
var ErrPoolNotFound = fmt.Errorf("%w: pool not found", ErrState)

// ErrInsufficientBalance is returned by AssetLedger implementations when the
// source account cannot cover a transfer. The engine surfaces it unchanged.
var ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrState)
