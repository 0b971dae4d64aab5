package app

import "errors"

// Market error kinds. Any of these failing a tx aborts every mutation the tx
// performed; the text is surfaced verbatim in the ExecTxResult log.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotInitialized       = errors.New("market not initialized")
	ErrAlreadyInitialized   = errors.New("market already initialized")
	ErrContractPaused       = errors.New("the market is currently paused")
	ErrRoundNotFound        = errors.New("round not found")
	ErrRoundNotStarted      = errors.New("round not started")
	ErrRoundLocked          = errors.New("round locked")
	ErrRoundNotEnded        = errors.New("round not ended")
	ErrBetAlreadyPlaced     = errors.New("user already placed bet")
	ErrBetNotFound          = errors.New("bet not found")
	ErrNoFundSent           = errors.New("no fund sent")
	ErrAlreadyClaimed       = errors.New("reward already claimed")
	ErrNotWinningBet        = errors.New("bet is not on the winning side")
	ErrCannotLockBeforeTime = errors.New("cannot lock round before lock time")
	ErrCannotEndWithoutLock = errors.New("cannot end round without lock price")
	ErrCannotEndBeforeTime  = errors.New("cannot end round before end time")
	ErrCannotStartNewRound  = errors.New("cannot start new round")
)
