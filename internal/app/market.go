package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/SpencerLiege/zigstake/internal/codec"
	"github.com/SpencerLiege/zigstake/internal/state"
)

const defaultLockOffsetSecs uint64 = 300
const defaultEndOffsetSecs uint64 = 600

func marketInit(st *state.State, caller string, msg codec.MarketInitTx) (*abci.ExecTxResult, error) {
	m := st.Market
	if m.Config != nil {
		return nil, ErrAlreadyInitialized
	}
	if msg.TreasuryFeeBps > bpsDenom {
		return nil, fmt.Errorf("treasury fee must be <= %d basis points: got %d", bpsDenom, msg.TreasuryFeeBps)
	}
	lockOffset := msg.LockOffsetSecs
	if lockOffset == 0 {
		lockOffset = defaultLockOffsetSecs
	}
	endOffset := msg.EndOffsetSecs
	if endOffset == 0 {
		endOffset = defaultEndOffsetSecs
	}
	if endOffset <= lockOffset {
		return nil, fmt.Errorf("end offset must exceed lock offset: lock=%ds end=%ds", lockOffset, endOffset)
	}

	m.Config = &state.MarketConfig{
		Admin:          caller,
		Paused:         false,
		TreasuryFeeBps: msg.TreasuryFeeBps,
		CurrentRoundID: 1,
		LockOffsetSecs: lockOffset,
		EndOffsetSecs:  endOffset,
	}

	return okEvent("MarketInitialized", map[string]string{
		"admin":          caller,
		"treasuryFeeBps": fmt.Sprintf("%d", msg.TreasuryFeeBps),
		"lockOffsetSecs": fmt.Sprintf("%d", lockOffset),
		"endOffsetSecs":  fmt.Sprintf("%d", endOffset),
	}), nil
}

func marketStartRound(st *state.State, caller string, msg codec.MarketStartRoundTx, nowUnix int64) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	if msg.Price == 0 {
		return nil, fmt.Errorf("start price must be > 0")
	}
	cfg := m.Config

	id := cfg.CurrentRoundID
	if m.Rounds[id] != nil {
		// Exactly-once: a round id is opened at most once.
		return nil, ErrCannotStartNewRound
	}
	if id > 1 {
		prev := m.Rounds[id-1]
		if prev == nil || prev.EndPrice == 0 {
			return nil, ErrCannotStartNewRound
		}
	}

	lockTime, err := addInt64AndU64Checked(nowUnix, cfg.LockOffsetSecs, "round lock time")
	if err != nil {
		return nil, err
	}
	endTime, err := addInt64AndU64Checked(nowUnix, cfg.EndOffsetSecs, "round end time")
	if err != nil {
		return nil, err
	}

	m.Rounds[id] = &state.Round{
		ID:           id,
		StartTime:    nowUnix,
		LockTime:     lockTime,
		EndTime:      endTime,
		StartPrice:   msg.Price,
		Participants: []string{},
	}

	return okEvent("RoundStarted", map[string]string{
		"roundId":    fmt.Sprintf("%d", id),
		"startPrice": fmt.Sprintf("%d", msg.Price),
		"lockTime":   fmt.Sprintf("%d", lockTime),
		"endTime":    fmt.Sprintf("%d", endTime),
	}), nil
}

func marketLockRound(st *state.State, caller string, msg codec.MarketLockRoundTx, nowUnix int64) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	if msg.Price == 0 {
		return nil, fmt.Errorf("lock price must be > 0")
	}

	r := m.Rounds[m.Config.CurrentRoundID]
	if r == nil {
		return nil, ErrRoundNotStarted
	}
	if nowUnix < r.LockTime {
		return nil, ErrCannotLockBeforeTime
	}

	// Re-locking before end_round overwrites the lock price (admin price
	// correction); end_round advances the round id and closes the window.
	r.LockPrice = msg.Price

	return okEvent("RoundLocked", map[string]string{
		"roundId":   fmt.Sprintf("%d", r.ID),
		"lockPrice": fmt.Sprintf("%d", msg.Price),
	}), nil
}

func marketEndRound(st *state.State, caller string, msg codec.MarketEndRoundTx, nowUnix int64) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	if msg.Price == 0 {
		return nil, fmt.Errorf("end price must be > 0")
	}
	cfg := m.Config

	r := m.Rounds[cfg.CurrentRoundID]
	if r == nil {
		return nil, ErrRoundNotStarted
	}
	if r.LockPrice == 0 {
		return nil, ErrCannotEndWithoutLock
	}
	if nowUnix < r.EndTime {
		return nil, ErrCannotEndBeforeTime
	}

	r.EndPrice = msg.Price
	r.Result = determineResult(r.LockPrice, r.EndPrice)
	r.Executed = true

	// Leaderboard bookkeeping plus the round's claimable liability. No user
	// funds move here; only the unclaimable remainder is swept.
	liability, err := settleRound(m, r)
	if err != nil {
		return nil, err
	}
	if liability > r.TotalPool {
		return nil, fmt.Errorf("settlement liability %d exceeds pool %d", liability, r.TotalPool)
	}
	r.Liability = liability

	sweep := r.TotalPool - liability
	if sweep > 0 {
		if err := st.Debit(escrowAccount, sweep); err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		if err := st.Credit(treasuryAccount, sweep); err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
	}

	total, err := addU64Checked(m.Liability, liability, "market liability")
	if err != nil {
		return nil, err
	}
	m.Liability = total

	cfg.CurrentRoundID++

	result := "push"
	if r.Result != nil {
		result = string(*r.Result)
	}
	return okEvent("RoundEnded", map[string]string{
		"roundId":   fmt.Sprintf("%d", r.ID),
		"endPrice":  fmt.Sprintf("%d", msg.Price),
		"result":    result,
		"liability": fmt.Sprintf("%d", liability),
		"sweep":     fmt.Sprintf("%d", sweep),
	}), nil
}

func marketPlaceBet(st *state.State, caller string, msg codec.MarketPlaceBetTx, nowUnix int64) (*abci.ExecTxResult, error) {
	m := st.Market
	if m.Config == nil {
		return nil, ErrNotInitialized
	}
	if m.Config.Paused {
		return nil, ErrContractPaused
	}
	dir := state.Direction(msg.Direction)
	if !dir.Valid() {
		return nil, fmt.Errorf("invalid direction %q", msg.Direction)
	}

	r := m.Rounds[msg.RoundID]
	if r == nil {
		return nil, ErrRoundNotFound
	}
	if nowUnix < r.StartTime {
		return nil, ErrRoundNotStarted
	}
	if nowUnix >= r.LockTime {
		return nil, ErrRoundLocked
	}
	if m.Bet(msg.RoundID, caller) != nil {
		return nil, ErrBetAlreadyPlaced
	}
	if msg.Amount == 0 {
		return nil, ErrNoFundSent
	}

	// Stake moves from the bettor to the escrow inside this tx.
	if err := st.Debit(caller, msg.Amount); err != nil {
		return nil, err
	}
	if err := st.Credit(escrowAccount, msg.Amount); err != nil {
		return nil, err
	}

	var poolErr error
	switch dir {
	case state.DirectionUp:
		r.BullPool, poolErr = addU64Checked(r.BullPool, msg.Amount, "bull pool")
	case state.DirectionDown:
		r.BearPool, poolErr = addU64Checked(r.BearPool, msg.Amount, "bear pool")
	}
	if poolErr != nil {
		return nil, poolErr
	}
	total, err := addU64Checked(r.TotalPool, msg.Amount, "total pool")
	if err != nil {
		return nil, err
	}
	r.TotalPool = total
	r.Participants = append(r.Participants, caller)

	m.PutBet(&state.Bet{
		RoundID:   msg.RoundID,
		User:      caller,
		Amount:    msg.Amount,
		Direction: dir,
	})

	entry := m.Leaderboard[caller]
	if entry == nil {
		entry = &state.LeaderboardEntry{User: caller}
		m.Leaderboard[caller] = entry
	}
	played, err := addU64Checked(entry.TotalAmountPlayed, msg.Amount, "total amount played")
	if err != nil {
		return nil, err
	}
	entry.TotalAmountPlayed = played
	switch dir {
	case state.DirectionUp:
		entry.TotalUp++
	case state.DirectionDown:
		entry.TotalDown++
	}

	return okEvent("BetPlaced", map[string]string{
		"roundId":   fmt.Sprintf("%d", msg.RoundID),
		"user":      caller,
		"amount":    fmt.Sprintf("%d", msg.Amount),
		"direction": string(dir),
	}), nil
}

func marketPause(st *state.State, caller string) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	m.Config.Paused = true
	return okEvent("MarketPaused", map[string]string{"admin": caller}), nil
}

func marketResume(st *state.State, caller string) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	m.Config.Paused = false
	return okEvent("MarketResumed", map[string]string{"admin": caller}), nil
}

func marketWithdraw(st *state.State, caller string, msg codec.MarketWithdrawTx) (*abci.ExecTxResult, error) {
	m := st.Market
	if err := requireAdmin(m.Config, caller); err != nil {
		return nil, err
	}
	if msg.Amount == 0 {
		return nil, fmt.Errorf("withdraw amount must be > 0")
	}
	if msg.Recipient == "" {
		return nil, fmt.Errorf("missing recipient")
	}

	// Withdraw draws from the treasury only. Escrowed pools and unclaimed
	// winnings are out of the admin's reach.
	if err := st.Debit(treasuryAccount, msg.Amount); err != nil {
		return nil, err
	}
	if err := st.Credit(msg.Recipient, msg.Amount); err != nil {
		return nil, err
	}

	return okEvent("Withdrawn", map[string]string{
		"amount":    fmt.Sprintf("%d", msg.Amount),
		"recipient": msg.Recipient,
	}), nil
}
