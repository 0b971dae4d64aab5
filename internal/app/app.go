package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cosmossdk.io/log"
	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/SpencerLiege/zigstake/internal/codec"
	"github.com/SpencerLiege/zigstake/internal/state"
)

const (
	AppVersion uint64 = 1
)

type ZigStakeApp struct {
	*abci.BaseApplication

	home   string
	logger log.Logger

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, logger log.Logger) (*ZigStakeApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &ZigStakeApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		logger:          logger,
		st:              st,
		lastHash:        st.AppHash(),
	}
	logger.Info("state loaded", "height", st.Height)
	return a, nil
}

func (a *ZigStakeApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "zigstake (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *ZigStakeApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; auth and market gates run at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *ZigStakeApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	// Market configuration is established by a market/init tx, not genesis.
	return &abci.InitChainResponse{}, nil
}

func (a *ZigStakeApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *ZigStakeApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *ZigStakeApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.st.Market

	// Paths:
	// - /market/config
	// - /market/paused
	// - /market/rounds
	// - /market/round/<id>
	// - /market/round/<id>/pool
	// - /market/predictions
	// - /market/prediction/<id>/<user>
	// - /market/leaderboard
	// - /account/<addr>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/market/config":
		if m.Config == nil {
			return a.queryErr(ErrNotInitialized.Error()), nil
		}
		return a.queryOK(m.Config), nil

	case path == "/market/paused":
		paused := m.Config != nil && m.Config.Paused
		return a.queryOK(paused), nil

	case path == "/market/rounds":
		rounds := make([]*state.Round, 0, len(m.Rounds))
		for _, id := range m.RoundIDs() {
			rounds = append(rounds, m.Rounds[id])
		}
		return a.queryOK(rounds), nil

	case path == "/market/predictions":
		return a.queryOK(m.AllBets()), nil

	case path == "/market/leaderboard":
		return a.queryOK(m.LeaderboardEntries()), nil

	case strings.HasPrefix(path, "/market/prediction/"):
		rest := strings.TrimPrefix(path, "/market/prediction/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[1] == "" {
			return a.queryErr("want /market/prediction/<roundId>/<user>"), nil
		}
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return a.queryErr("invalid round id"), nil
		}
		bet := m.Bet(id, parts[1])
		if bet == nil {
			return a.queryErr(ErrBetNotFound.Error()), nil
		}
		return a.queryOK(bet), nil

	case strings.HasPrefix(path, "/market/round/"):
		raw := strings.TrimPrefix(path, "/market/round/")
		wantPool := false
		if strings.HasSuffix(raw, "/pool") {
			wantPool = true
			raw = strings.TrimSuffix(raw, "/pool")
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return a.queryErr("invalid round id"), nil
		}
		r := m.Rounds[id]
		if r == nil {
			return a.queryErr(ErrRoundNotFound.Error()), nil
		}
		if wantPool {
			return a.queryOK(r.TotalPool), nil
		}
		return a.queryOK(r), nil

	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		return a.queryOK(map[string]any{"addr": addr, "balance": bal}), nil

	default:
		return a.queryErr("unknown query path"), nil
	}
}

func (a *ZigStakeApp) queryOK(v any) *abci.QueryResponse {
	b, _ := json.Marshal(v)
	return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}
}

func (a *ZigStakeApp) queryErr(msg string) *abci.QueryResponse {
	return &abci.QueryResponse{Code: 1, Log: msg, Height: a.st.Height}
}

// deliverTx executes one tx against a staged copy of state; the copy becomes
// current only when execution succeeds, so a failing tx leaves no trace.
func (a *ZigStakeApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	staged, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	res := execTx(staged, env, nowUnix)
	if res.Code != 0 {
		a.logger.Debug("tx rejected", "type", env.Type, "height", height, "log", res.Log)
		return res
	}

	a.st = staged
	a.logger.Info("tx applied", "type", env.Type, "height", height)
	return res
}

// checkAndBumpNonce enforces a strictly increasing numeric nonce per signer.
// It mutates staged state, so a tx that later fails does not consume its nonce.
func checkAndBumpNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tx.nonce %q: must be a uint64", env.Nonce)
	}
	if last, ok := st.NonceMax[env.Signer]; ok && n <= last {
		return fmt.Errorf("replayed tx.nonce %d for signer %q (last %d)", n, env.Signer, last)
	}
	st.NonceMax[env.Signer] = n
	return nil
}

func execTx(st *state.State, env codec.TxEnvelope, nowUnix int64) *abci.ExecTxResult {
	fail := func(err error) *abci.ExecTxResult {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	// Every signed tx pays a nonce; bank/mint is the unsigned devnet faucet.
	if env.Signer != "" {
		if err := checkAndBumpNonce(st, env); err != nil {
			return fail(err)
		}
	}

	switch env.Type {
	case "bank/mint":
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad bank/mint value"))
		}
		if msg.To == "" || msg.Amount == 0 {
			return fail(fmt.Errorf("missing to/amount"))
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return fail(err)
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad bank/send value"))
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return fail(fmt.Errorf("missing from/to/amount"))
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return fail(err)
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return fail(err)
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return fail(err)
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad auth/register_account value"))
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return fail(err)
		}
		if existing := st.AccountKeys[msg.Account]; len(existing) != 0 {
			return fail(fmt.Errorf("account %q already registered", msg.Account))
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "market/init":
		var msg codec.MarketInitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/init value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketInit(st, caller, msg)
		})

	case "market/start_round":
		var msg codec.MarketStartRoundTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/start_round value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketStartRound(st, caller, msg, nowUnix)
		})

	case "market/lock_round":
		var msg codec.MarketLockRoundTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/lock_round value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketLockRound(st, caller, msg, nowUnix)
		})

	case "market/end_round":
		var msg codec.MarketEndRoundTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/end_round value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketEndRound(st, caller, msg, nowUnix)
		})

	case "market/pause":
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketPause(st, caller)
		})

	case "market/resume":
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketResume(st, caller)
		})

	case "market/withdraw":
		var msg codec.MarketWithdrawTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/withdraw value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketWithdraw(st, caller, msg)
		})

	case "market/place_bet":
		var msg codec.MarketPlaceBetTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/place_bet value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketPlaceBet(st, caller, msg, nowUnix)
		})

	case "market/claim_reward":
		var msg codec.MarketClaimRewardTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return fail(fmt.Errorf("bad market/claim_reward value"))
		}
		return marketTx(st, env, func(caller string) (*abci.ExecTxResult, error) {
			return marketClaimReward(st, caller, msg)
		})

	default:
		return &abci.ExecTxResult{Code: 1, Log: "unknown tx type: " + env.Type}
	}
}

// marketTx authenticates the envelope signer as the market caller, then runs
// the handler.
func marketTx(st *state.State, env codec.TxEnvelope, handler func(caller string) (*abci.ExecTxResult, error)) *abci.ExecTxResult {
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	res, err := handler(env.Signer)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	return res
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
