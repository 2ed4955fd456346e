package session

import "errors"

// Code is the machine readable failure kind sent back to the requester.
type Code string

const (
	CodeNotInSession        Code = "NOT_IN_SESSION"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeGameAlreadyEnded    Code = "GAME_ALREADY_ENDED"
	CodeNoColorAssigned     Code = "NO_COLOR_ASSIGNED"
	CodeWrongTurn           Code = "WRONG_TURN"
	CodeInvalidMove         Code = "INVALID_MOVE"
	CodeNoOfferPending      Code = "NO_OFFER_PENDING"
	CodeSelfAcceptForbidden Code = "SELF_ACCEPT_FORBIDDEN"
	CodeInvalidStakeAmount  Code = "INVALID_STAKE_AMOUNT"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeStakeAlreadyPending Code = "STAKE_ALREADY_PENDING"
	CodeStakeAlreadyActive  Code = "STAKE_ALREADY_ACTIVE"
	CodeNoClaimableDraw     Code = "NO_CLAIMABLE_DRAW"
	CodeInternal            Code = "INTERNAL"
)

// Error is a typed request failure. Two errors match under errors.Is when
// their codes are equal, so a detailed message still matches its sentinel.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotInSession        = &Error{Code: CodeNotInSession, Message: "you are not in a game"}
	ErrSessionNotFound     = &Error{Code: CodeSessionNotFound, Message: "game not found"}
	ErrGameAlreadyEnded    = &Error{Code: CodeGameAlreadyEnded, Message: "the game is already over"}
	ErrNoColorAssigned     = &Error{Code: CodeNoColorAssigned, Message: "no side assigned"}
	ErrWrongTurn           = &Error{Code: CodeWrongTurn, Message: "it is not your turn"}
	ErrInvalidMove         = &Error{Code: CodeInvalidMove, Message: "invalid move"}
	ErrNoOfferPending      = &Error{Code: CodeNoOfferPending, Message: "there is no pending offer"}
	ErrSelfAcceptForbidden = &Error{Code: CodeSelfAcceptForbidden, Message: "you cannot answer your own offer"}
	ErrInvalidStakeAmount  = &Error{Code: CodeInvalidStakeAmount, Message: "invalid stake amount"}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrStakeAlreadyPending = &Error{Code: CodeStakeAlreadyPending, Message: "a stake offer is already pending"}
	ErrStakeAlreadyActive  = &Error{Code: CodeStakeAlreadyActive, Message: "a stake is already active"}
	ErrNoClaimableDraw     = &Error{Code: CodeNoClaimableDraw, Message: "no draw can be claimed right now"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}
)

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the failure code of err, INTERNAL for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// PublicMessage returns the text safe to show the requester. Causes and
// untyped errors are never exposed.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
