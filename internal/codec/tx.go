package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 devnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth:
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer id; the market caller identity.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Market ----

// MarketInitTx establishes the market configuration exactly once. The tx
// signer becomes the admin.
type MarketInitTx struct {
	TreasuryFeeBps uint32 `json:"treasuryFeeBps"`

	// Offsets from a round's start time; defaults apply when zero.
	LockOffsetSecs uint64 `json:"lockOffsetSecs,omitempty"`
	EndOffsetSecs  uint64 `json:"endOffsetSecs,omitempty"`
}

type MarketStartRoundTx struct {
	Price uint64 `json:"price"`
}

type MarketLockRoundTx struct {
	Price uint64 `json:"price"`
}

type MarketEndRoundTx struct {
	Price uint64 `json:"price"`
}

// market/pause and market/resume carry no payload; the envelope signer is
// the whole message.

type MarketWithdrawTx struct {
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient"`
}

type MarketPlaceBetTx struct {
	RoundID   uint64 `json:"roundId"`
	Direction string `json:"direction"` // up|down
	// Stake debited from the signer's bank balance within the same tx.
	Amount uint64 `json:"amount"`
}

type MarketClaimRewardTx struct {
	RoundID uint64 `json:"roundId"`
}
