package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/SpencerLiege/zigstake/internal/codec"
	"github.com/SpencerLiege/zigstake/internal/state"
)

const (
	// Module accounts. The escrow custodies live pools and unclaimed
	// winnings; the treasury receives fees, rounding dust and pools with no
	// winning side, and is the only source for market/withdraw.
	escrowAccount   = "zigstake/escrow"
	treasuryAccount = "zigstake/treasury"

	bpsDenom uint32 = 10_000
)

// determineResult applies the outcome rule: price rose -> Up wins, price
// fell -> Down wins, unchanged -> push (nil).
func determineResult(lockPrice, endPrice uint64) *state.Direction {
	var d state.Direction
	switch {
	case endPrice > lockPrice:
		d = state.DirectionUp
	case endPrice < lockPrice:
		d = state.DirectionDown
	default:
		return nil
	}
	return &d
}

// winningPool returns the pool on the winning side of an executed round.
// ok is false on a push.
func winningPool(r *state.Round) (uint64, bool) {
	if r.Result == nil {
		return 0, false
	}
	if *r.Result == state.DirectionUp {
		return r.BullPool, true
	}
	return r.BearPool, true
}

// pariMutuelReward is the single source of truth for the reward of a winning
// bet: the stake plus a pro-rata share of the losing pool.
func pariMutuelReward(amount, winning, losing uint64) (uint64, error) {
	share, err := mulDivU64(amount, losing, winning, "pari-mutuel share")
	if err != nil {
		return 0, err
	}
	return addU64Checked(amount, share, "pari-mutuel reward")
}

// claimableReward computes what bet may claim from an executed round:
// the full pari-mutuel reward on a win, the stake back on a push, and
// ErrNotWinningBet otherwise.
func claimableReward(r *state.Round, bet *state.Bet) (uint64, error) {
	if r.Result == nil {
		// Push: prices unchanged, stakes are refunded.
		return bet.Amount, nil
	}
	if bet.Direction != *r.Result {
		return 0, ErrNotWinningBet
	}
	winning, _ := winningPool(r)
	if winning == 0 {
		return 0, ErrNotWinningBet
	}
	return pariMutuelReward(bet.Amount, winning, r.TotalPool-winning)
}

// treasuryFee is the fee deducted from a claimed reward, in basis points.
func treasuryFee(reward uint64, feeBps uint32) (uint64, error) {
	if feeBps == 0 || reward == 0 {
		return 0, nil
	}
	return mulDivU64(reward, uint64(feeBps), uint64(bpsDenom), "treasury fee")
}

// settleRound updates the leaderboard for every participant of an executed
// round and returns the round's total claimable liability. It moves no funds:
// claims are lazy and per-user.
func settleRound(m *state.MarketState, r *state.Round) (uint64, error) {
	var liability uint64
	for _, user := range r.Participants {
		bet := m.Bet(r.ID, user)
		if bet == nil {
			return 0, fmt.Errorf("participant %q of round %d has no bet", user, r.ID)
		}
		entry := m.Leaderboard[user]
		if entry == nil {
			return 0, fmt.Errorf("participant %q of round %d has no leaderboard entry", user, r.ID)
		}

		if r.Result == nil {
			// Push: refundable, counts as neither a win nor a loss.
			var err error
			liability, err = addU64Checked(liability, bet.Amount, "round liability")
			if err != nil {
				return 0, err
			}
			continue
		}

		if bet.Direction == *r.Result {
			winning, _ := winningPool(r)
			reward, err := pariMutuelReward(bet.Amount, winning, r.TotalPool-winning)
			if err != nil {
				return 0, err
			}
			won, err := addU64Checked(entry.AmountWon, reward, "amount won")
			if err != nil {
				return 0, err
			}
			entry.AmountWon = won
			entry.TotalWon++
			liability, err = addU64Checked(liability, reward, "round liability")
			if err != nil {
				return 0, err
			}
		} else {
			lost, err := addU64Checked(entry.AmountLost, bet.Amount, "amount lost")
			if err != nil {
				return 0, err
			}
			entry.AmountLost = lost
			entry.TotalLost++
		}
	}
	return liability, nil
}

func marketClaimReward(st *state.State, caller string, msg codec.MarketClaimRewardTx) (*abci.ExecTxResult, error) {
	m := st.Market
	if m.Config == nil {
		return nil, ErrNotInitialized
	}

	r := m.Rounds[msg.RoundID]
	if r == nil {
		return nil, ErrRoundNotFound
	}
	if !r.Executed {
		return nil, ErrRoundNotEnded
	}
	bet := m.Bet(msg.RoundID, caller)
	if bet == nil {
		return nil, ErrBetNotFound
	}
	if bet.Claimed {
		return nil, ErrAlreadyClaimed
	}

	reward, err := claimableReward(r, bet)
	if err != nil {
		return nil, err
	}

	// No fee on push refunds; the bettor gets the exact stake back.
	var fee uint64
	if r.Result != nil {
		fee, err = treasuryFee(reward, m.Config.TreasuryFeeBps)
		if err != nil {
			return nil, err
		}
	}
	payout := reward - fee

	if err := st.Debit(escrowAccount, reward); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if err := st.Credit(caller, payout); err != nil {
		return nil, err
	}
	if fee > 0 {
		if err := st.Credit(treasuryAccount, fee); err != nil {
			return nil, err
		}
	}

	bet.Claimed = true
	if r.Liability < reward || m.Liability < reward {
		return nil, fmt.Errorf("liability underflow: round=%d market=%d reward=%d", r.Liability, m.Liability, reward)
	}
	r.Liability -= reward
	m.Liability -= reward

	return okEvent("RewardClaimed", map[string]string{
		"roundId": fmt.Sprintf("%d", msg.RoundID),
		"user":    caller,
		"reward":  fmt.Sprintf("%d", reward),
		"fee":     fmt.Sprintf("%d", fee),
		"payout":  fmt.Sprintf("%d", payout),
	}), nil
}
