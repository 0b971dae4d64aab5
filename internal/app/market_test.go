package app

import (
	"testing"
)

func TestMarketInit_SignerBecomesAdmin(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)

	cfg := f.app.st.Market.Config
	if cfg == nil {
		t.Fatalf("config not set")
	}
	if cfg.Admin != "admin" {
		t.Fatalf("admin = %q, want %q", cfg.Admin, "admin")
	}
	if cfg.TreasuryFeeBps != 500 {
		t.Fatalf("fee = %d, want 500", cfg.TreasuryFeeBps)
	}
	if cfg.CurrentRoundID != 1 {
		t.Fatalf("current round = %d, want 1", cfg.CurrentRoundID)
	}
	if cfg.LockOffsetSecs != 300 || cfg.EndOffsetSecs != 600 {
		t.Fatalf("offsets = %d/%d, want defaults 300/600", cfg.LockOffsetSecs, cfg.EndOffsetSecs)
	}
	if cfg.Paused {
		t.Fatalf("fresh market should not be paused")
	}
}

func TestMarketInit_RejectsSecondInit(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)

	f.register("other")
	res := f.deliver("market/init", map[string]any{"treasuryFeeBps": 100}, "other")
	mustFail(t, res, ErrAlreadyInitialized.Error())

	if got := f.app.st.Market.Config.Admin; got != "admin" {
		t.Fatalf("admin changed to %q", got)
	}
}

func TestMarketInit_RejectsFeeAboveDenom(t *testing.T) {
	f := newFixture(t)
	f.register("admin")
	res := f.deliver("market/init", map[string]any{"treasuryFeeBps": 10_001}, "admin")
	mustFail(t, res, "treasury fee must be <=")
	if f.app.st.Market.Config != nil {
		t.Fatalf("config set despite rejected init")
	}
}

func TestMarketInit_RejectsEndOffsetNotAfterLock(t *testing.T) {
	f := newFixture(t)
	f.register("admin")
	res := f.deliver("market/init", map[string]any{
		"treasuryFeeBps": 0,
		"lockOffsetSecs": 120,
		"endOffsetSecs":  120,
	}, "admin")
	mustFail(t, res, "end offset must exceed lock offset")
}

func TestMarketInit_CustomOffsets(t *testing.T) {
	f := newFixture(t)
	f.register("admin")
	mustOk(t, f.deliver("market/init", map[string]any{
		"treasuryFeeBps": 250,
		"lockOffsetSecs": 60,
		"endOffsetSecs":  180,
	}, "admin"))

	cfg := f.app.st.Market.Config
	if cfg.LockOffsetSecs != 60 || cfg.EndOffsetSecs != 180 {
		t.Fatalf("offsets = %d/%d, want 60/180", cfg.LockOffsetSecs, cfg.EndOffsetSecs)
	}
}

func TestStartRound_SetsDeadlinesFromBlockTime(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)

	res := mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))
	ev := findEvent(res.Events, "RoundStarted")
	if ev == nil {
		t.Fatalf("missing RoundStarted event")
	}
	if got := attr(ev, "roundId"); got != "1" {
		t.Fatalf("roundId = %s, want 1", got)
	}

	r := f.app.st.Market.Rounds[1]
	if r == nil {
		t.Fatalf("round 1 not stored")
	}
	if r.StartTime != f.now {
		t.Fatalf("startTime = %d, want %d", r.StartTime, f.now)
	}
	if r.LockTime != f.now+300 {
		t.Fatalf("lockTime = %d, want %d", r.LockTime, f.now+300)
	}
	if r.EndTime != f.now+600 {
		t.Fatalf("endTime = %d, want %d", r.EndTime, f.now+600)
	}
	if r.StartPrice != 1000 {
		t.Fatalf("startPrice = %d, want 1000", r.StartPrice)
	}
}

func TestStartRound_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.register("mallory")

	res := f.deliver("market/start_round", map[string]any{"price": 1000}, "mallory")
	mustFail(t, res, ErrUnauthorized.Error())
	if f.app.st.Market.Rounds[1] != nil {
		t.Fatalf("round stored despite unauthorized start")
	}
}

func TestStartRound_RejectsZeroPrice(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	res := f.deliver("market/start_round", map[string]any{"price": 0}, "admin")
	mustFail(t, res, "start price must be > 0")
}

func TestStartRound_RejectsWhileCurrentRoundOpen(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := f.deliver("market/start_round", map[string]any{"price": 1001}, "admin")
	mustFail(t, res, ErrCannotStartNewRound.Error())
}

func TestStartRound_AllowedAfterPreviousEnded(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.runRound(1000, 1000, 1001)

	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1001}, "admin"))
	if f.app.st.Market.Rounds[2] == nil {
		t.Fatalf("round 2 not stored")
	}
}

func TestLockRound_BeforeLockTime(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := f.deliver("market/lock_round", map[string]any{"price": 1005}, "admin")
	mustFail(t, res, ErrCannotLockBeforeTime.Error())
}

func TestLockRound_OverwriteBeforeEnd(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	f.advance(300)
	mustOk(t, f.deliver("market/lock_round", map[string]any{"price": 1005}, "admin"))
	mustOk(t, f.deliver("market/lock_round", map[string]any{"price": 1007}, "admin"))

	if got := f.app.st.Market.Rounds[1].LockPrice; got != 1007 {
		t.Fatalf("lockPrice = %d, want 1007", got)
	}
}

func TestLockRound_WithoutRound(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	res := f.deliver("market/lock_round", map[string]any{"price": 1005}, "admin")
	mustFail(t, res, ErrRoundNotStarted.Error())
}

func TestEndRound_RequiresLock(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	f.advance(600)
	res := f.deliver("market/end_round", map[string]any{"price": 1010}, "admin")
	mustFail(t, res, ErrCannotEndWithoutLock.Error())
}

func TestEndRound_BeforeEndTime(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	f.advance(300)
	mustOk(t, f.deliver("market/lock_round", map[string]any{"price": 1005}, "admin"))

	res := f.deliver("market/end_round", map[string]any{"price": 1010}, "admin")
	mustFail(t, res, ErrCannotEndBeforeTime.Error())
}

func TestEndRound_AdvancesCurrentRound(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.runRound(1000, 1005, 1010)

	cfg := f.app.st.Market.Config
	if cfg.CurrentRoundID != 2 {
		t.Fatalf("currentRoundId = %d, want 2", cfg.CurrentRoundID)
	}
	r := f.app.st.Market.Rounds[1]
	if !r.Executed {
		t.Fatalf("round not executed")
	}
	if r.Result == nil || *r.Result != "up" {
		t.Fatalf("result = %v, want up", r.Result)
	}
}

func TestEndRound_PriceFellMeansDownWins(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.runRound(1000, 1005, 990)

	r := f.app.st.Market.Rounds[1]
	if r.Result == nil || *r.Result != "down" {
		t.Fatalf("result = %v, want down", r.Result)
	}
}

func TestEndRound_UnchangedPriceIsPush(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.runRound(1000, 1005, 1005)

	r := f.app.st.Market.Rounds[1]
	if r.Result != nil {
		t.Fatalf("result = %v, want push (nil)", *r.Result)
	}
	if !r.Executed {
		t.Fatalf("push round must still be executed")
	}
}

func TestPlaceBet_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := mustOk(t, f.deliver("market/place_bet", map[string]any{
		"roundId": 1, "direction": "up", "amount": 30,
	}, "alice"))
	ev := findEvent(res.Events, "BetPlaced")
	if ev == nil {
		t.Fatalf("missing BetPlaced event")
	}
	if got := attr(ev, "amount"); got != "30" {
		t.Fatalf("amount attr = %s, want 30", got)
	}

	if got := f.balance("alice"); got != 70 {
		t.Fatalf("alice balance = %d, want 70", got)
	}
	if got := f.balance(escrowAccount); got != 30 {
		t.Fatalf("escrow balance = %d, want 30", got)
	}

	r := f.app.st.Market.Rounds[1]
	if r.BullPool != 30 || r.BearPool != 0 || r.TotalPool != 30 {
		t.Fatalf("pools = %d/%d/%d, want 30/0/30", r.BullPool, r.BearPool, r.TotalPool)
	}
	if len(r.Participants) != 1 || r.Participants[0] != "alice" {
		t.Fatalf("participants = %v", r.Participants)
	}

	bet := f.app.st.Market.Bet(1, "alice")
	if bet == nil || bet.Amount != 30 || bet.Direction != "up" || bet.Claimed {
		t.Fatalf("bet = %+v", bet)
	}

	entry := f.app.st.Market.Leaderboard["alice"]
	if entry == nil || entry.TotalAmountPlayed != 30 || entry.TotalUp != 1 || entry.TotalDown != 0 {
		t.Fatalf("leaderboard entry = %+v", entry)
	}
}

func TestPlaceBet_PoolInvariant(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	f.bettor("bob", 100)
	f.bettor("carol", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	mustOk(t, f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice"))
	mustOk(t, f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "down", "amount": 25}, "bob"))
	mustOk(t, f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 7}, "carol"))

	r := f.app.st.Market.Rounds[1]
	if r.TotalPool != r.BullPool+r.BearPool {
		t.Fatalf("total %d != bull %d + bear %d", r.TotalPool, r.BullPool, r.BearPool)
	}
	if r.TotalPool != 42 {
		t.Fatalf("total = %d, want 42", r.TotalPool)
	}
	if got := f.balance(escrowAccount); got != 42 {
		t.Fatalf("escrow = %d, want 42", got)
	}
}

func TestPlaceBet_RejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))
	mustOk(t, f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice"))

	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "down", "amount": 5}, "alice")
	mustFail(t, res, ErrBetAlreadyPlaced.Error())
	if got := f.balance("alice"); got != 90 {
		t.Fatalf("alice balance = %d, want 90", got)
	}
}

func TestPlaceBet_RejectsUnknownRound(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)

	res := f.deliver("market/place_bet", map[string]any{"roundId": 7, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, ErrRoundNotFound.Error())
}

func TestPlaceBet_RejectsBeforeStartTime(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	// A block timestamped before the round opened.
	f.now -= 10
	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, ErrRoundNotStarted.Error())

	if got := f.balance("alice"); got != 100 {
		t.Fatalf("alice balance = %d, want 100", got)
	}
	if got := f.balance(escrowAccount); got != 0 {
		t.Fatalf("escrow = %d, want 0", got)
	}
	r := f.app.st.Market.Rounds[1]
	if r.TotalPool != 0 || r.BullPool != 0 || len(r.Participants) != 0 {
		t.Fatalf("round mutated: %+v", r)
	}
	if f.app.st.Market.Bet(1, "alice") != nil {
		t.Fatalf("bet stored despite rejection")
	}
}

func TestPlaceBet_RejectsAfterLockTime(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	f.advance(300)
	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, ErrRoundLocked.Error())
}

func TestPlaceBet_RejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 0}, "alice")
	mustFail(t, res, ErrNoFundSent.Error())
}

func TestPlaceBet_RejectsInvalidDirection(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "sideways", "amount": 10}, "alice")
	mustFail(t, res, "invalid direction")
}

func TestPlaceBet_RejectsInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 5)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))

	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, "insufficient funds")
	if got := f.balance(escrowAccount); got != 0 {
		t.Fatalf("escrow = %d, want 0", got)
	}
}

func TestPlaceBet_RejectsWhilePaused(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.bettor("alice", 100)
	mustOk(t, f.deliver("market/start_round", map[string]any{"price": 1000}, "admin"))
	mustOk(t, f.deliver("market/pause", map[string]any{}, "admin"))

	res := f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, ErrContractPaused.Error())

	mustOk(t, f.deliver("market/resume", map[string]any{}, "admin"))
	mustOk(t, f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice"))
}

func TestPauseResume_RequireAdmin(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.register("mallory")

	res := f.deliver("market/pause", map[string]any{}, "mallory")
	mustFail(t, res, ErrUnauthorized.Error())
	if f.app.st.Market.Config.Paused {
		t.Fatalf("market paused by non-admin")
	}

	mustOk(t, f.deliver("market/pause", map[string]any{}, "admin"))
	res = f.deliver("market/resume", map[string]any{}, "mallory")
	mustFail(t, res, ErrUnauthorized.Error())
	if !f.app.st.Market.Config.Paused {
		t.Fatalf("market resumed by non-admin")
	}
}

func TestWithdraw_DrawsFromTreasuryOnly(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.mint(treasuryAccount, 40)
	f.mint(escrowAccount, 100)

	mustOk(t, f.deliver("market/withdraw", map[string]any{"amount": 25, "recipient": "admin"}, "admin"))
	if got := f.balance("admin"); got != 25 {
		t.Fatalf("admin balance = %d, want 25", got)
	}
	if got := f.balance(treasuryAccount); got != 15 {
		t.Fatalf("treasury = %d, want 15", got)
	}

	// Escrowed funds cannot be withdrawn even when the treasury runs dry.
	res := f.deliver("market/withdraw", map[string]any{"amount": 50, "recipient": "admin"}, "admin")
	mustFail(t, res, "insufficient funds")
	if got := f.balance(escrowAccount); got != 100 {
		t.Fatalf("escrow = %d, want 100", got)
	}
}

func TestWithdraw_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.initMarket("admin", 500)
	f.register("mallory")
	f.mint(treasuryAccount, 40)

	res := f.deliver("market/withdraw", map[string]any{"amount": 10, "recipient": "mallory"}, "mallory")
	mustFail(t, res, ErrUnauthorized.Error())
	if got := f.balance(treasuryAccount); got != 40 {
		t.Fatalf("treasury = %d, want 40", got)
	}
}

func TestMarketTx_RequiresInit(t *testing.T) {
	f := newFixture(t)
	f.register("alice")

	res := f.deliver("market/start_round", map[string]any{"price": 1000}, "alice")
	mustFail(t, res, ErrNotInitialized.Error())

	res = f.deliver("market/place_bet", map[string]any{"roundId": 1, "direction": "up", "amount": 10}, "alice")
	mustFail(t, res, ErrNotInitialized.Error())
}
