package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type State struct {
	Height int64 `json:"height"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection

	Market *MarketState `json:"market,omitempty"`
}

func NewState() *State {
	return &State{
		Height:      0,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Market:      NewMarketState(),
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Market == nil {
		s.Market = NewMarketState()
	}
	s.Market.normalize()
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type roundKV struct {
		ID    uint64 `json:"id"`
		Round *Round `json:"round"`
	}
	type betKV struct {
		RoundID uint64 `json:"roundId"`
		User    string `json:"user"`
		Bet     *Bet   `json:"bet"`
	}
	type boardKV struct {
		User  string            `json:"user"`
		Entry *LeaderboardEntry `json:"entry"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	m := s.Market
	if m == nil {
		m = NewMarketState()
	}

	rounds := make([]roundKV, 0, len(m.Rounds))
	for id, r := range m.Rounds {
		rounds = append(rounds, roundKV{ID: id, Round: r})
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID < rounds[j].ID })

	bets := make([]betKV, 0)
	for roundID, byUser := range m.Bets {
		for user, b := range byUser {
			bets = append(bets, betKV{RoundID: roundID, User: user, Bet: b})
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].RoundID != bets[j].RoundID {
			return bets[i].RoundID < bets[j].RoundID
		}
		return bets[i].User < bets[j].User
	})

	boards := make([]boardKV, 0, len(m.Leaderboard))
	for user, e := range m.Leaderboard {
		boards = append(boards, boardKV{User: user, Entry: e})
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].User < boards[j].User })

	normalized := struct {
		Height      int64          `json:"height"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Config      *MarketConfig  `json:"config,omitempty"`
		Rounds      []roundKV      `json:"rounds"`
		Bets        []betKV        `json:"bets"`
		Leaderboard []boardKV      `json:"leaderboard"`
		Liability   uint64         `json:"liability"`
	}{
		Height:      s.Height,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Config:      m.Config,
		Rounds:      rounds,
		Bets:        bets,
		Leaderboard: boards,
		Liability:   m.Liability,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Market ----

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// MarketConfig is the replicated market configuration established by
// market/init. All of it is consensus state; node-local settings never
// belong here.
type MarketConfig struct {
	Admin          string `json:"admin"`
	Paused         bool   `json:"paused"`
	TreasuryFeeBps uint32 `json:"treasuryFeeBps"` // basis points out of 10000
	CurrentRoundID uint64 `json:"currentRoundId"`

	// Round timing offsets applied to the block time at start_round.
	LockOffsetSecs uint64 `json:"lockOffsetSecs"`
	EndOffsetSecs  uint64 `json:"endOffsetSecs"`
}

// Round is one betting epoch. Rounds are permanent history: they are never
// deleted, only transitioned created -> locked -> ended.
type Round struct {
	ID uint64 `json:"id"`

	BullPool  uint64 `json:"bullPool"`
	BearPool  uint64 `json:"bearPool"`
	TotalPool uint64 `json:"totalPool"`

	// Unix seconds, derived from block time at start_round.
	StartTime int64 `json:"startTime"`
	LockTime  int64 `json:"lockTime"`
	EndTime   int64 `json:"endTime"`

	// Zero means "unset".
	StartPrice uint64 `json:"startPrice"`
	LockPrice  uint64 `json:"lockPrice"`
	EndPrice   uint64 `json:"endPrice"`

	Result   *Direction `json:"result,omitempty"` // nil while open and on a push
	Executed bool       `json:"executed"`

	// Bettors in order of first bet. Unique because bets are unique per
	// (round, user).
	Participants []string `json:"participants"`

	// Unclaimed obligations of this round, fixed at end_round and drawn
	// down by claims.
	Liability uint64 `json:"liability,omitempty"`
}

// Bet is immutable once placed, except for the claimed marker.
type Bet struct {
	RoundID   uint64    `json:"roundId"`
	User      string    `json:"user"`
	Amount    uint64    `json:"amount"`
	Direction Direction `json:"direction"`
	Claimed   bool      `json:"claimed,omitempty"`
}

// LeaderboardEntry accumulates per-user settlement statistics. Counters are
// monotonic; bookkeeping only, never authoritative for fund transfers.
type LeaderboardEntry struct {
	User              string `json:"user"`
	TotalAmountPlayed uint64 `json:"totalAmountPlayed"`
	AmountWon         uint64 `json:"amountWon"`
	AmountLost        uint64 `json:"amountLost"`
	TotalWon          uint64 `json:"totalWon"`
	TotalLost         uint64 `json:"totalLost"`
	TotalUp           uint64 `json:"totalUp"`
	TotalDown         uint64 `json:"totalDown"`
}

type MarketState struct {
	// Nil until market/init.
	Config *MarketConfig `json:"config,omitempty"`

	Rounds map[uint64]*Round `json:"rounds"`

	// roundId -> user -> bet.
	Bets map[uint64]map[string]*Bet `json:"bets"`

	Leaderboard map[string]*LeaderboardEntry `json:"leaderboard"`

	// Total outstanding claimable across all ended rounds. The escrow
	// account balance must always equal the open pools plus this.
	Liability uint64 `json:"liability"`
}

func NewMarketState() *MarketState {
	return &MarketState{
		Rounds:      map[uint64]*Round{},
		Bets:        map[uint64]map[string]*Bet{},
		Leaderboard: map[string]*LeaderboardEntry{},
	}
}

func (m *MarketState) normalize() {
	if m.Rounds == nil {
		m.Rounds = map[uint64]*Round{}
	}
	if m.Bets == nil {
		m.Bets = map[uint64]map[string]*Bet{}
	}
	if m.Leaderboard == nil {
		m.Leaderboard = map[string]*LeaderboardEntry{}
	}
}

// Bet returns the bet for (roundID, user), or nil.
func (m *MarketState) Bet(roundID uint64, user string) *Bet {
	byUser := m.Bets[roundID]
	if byUser == nil {
		return nil
	}
	return byUser[user]
}

func (m *MarketState) PutBet(b *Bet) {
	byUser := m.Bets[b.RoundID]
	if byUser == nil {
		byUser = map[string]*Bet{}
		m.Bets[b.RoundID] = byUser
	}
	byUser[b.User] = b
}

// RoundIDs returns all stored round ids in ascending order.
func (m *MarketState) RoundIDs() []uint64 {
	ids := make([]uint64, 0, len(m.Rounds))
	for id := range m.Rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AllBets returns every bet ordered by (roundId, user) ascending.
func (m *MarketState) AllBets() []*Bet {
	out := make([]*Bet, 0)
	for _, byUser := range m.Bets {
		for _, b := range byUser {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].User < out[j].User
	})
	return out
}

// LeaderboardEntries returns the leaderboard ordered by user ascending.
func (m *MarketState) LeaderboardEntries() []*LeaderboardEntry {
	out := make([]*LeaderboardEntry, 0, len(m.Leaderboard))
	for _, e := range m.Leaderboard {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
