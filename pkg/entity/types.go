// Package entity holds the data model of §3: units, balls, messages,
// inputs, outputs and their derived per-unit properties.
package entity

import "time"

// Sequence labels a unit's finality status.
type Sequence string

const (
	SequenceGood     Sequence = "good"
	SequenceTempBad  Sequence = "temp-bad"
	SequenceFinalBad Sequence = "final-bad"
)

// PayloadLocation says where a message's payload actually lives.
type PayloadLocation string

const (
	PayloadInline PayloadLocation = "inline"
	PayloadURI    PayloadLocation = "uri"
)

// InputKind tags the variant of a payment Input.
type InputKind string

const (
	InputTransfer            InputKind = "transfer"
	InputHeadersCommission   InputKind = "headers_commission"
	InputWitnessing          InputKind = "witnessing"
	InputIssue               InputKind = "issue"
)

// Author is one signer of a unit.
type Author struct {
	Address        string            `json:"address"`
	Authentifiers  map[string]string `json:"authentifiers"` // signing-path -> signature
	Definition     *Definition       `json:"definition,omitempty"`
}

// Input is a tagged union over the four input variants of §3. Only the
// fields relevant to Kind are populated; Address is set whenever the
// owning unit has more than one author.
type Input struct {
	Kind InputKind `json:"kind"`

	// transfer
	Unit         string `json:"unit,omitempty"`
	MessageIndex int    `json:"message_index,omitempty"`
	OutputIndex  int    `json:"output_index,omitempty"`

	// headers_commission / witnessing
	FromMCI uint64 `json:"from_mci,omitempty"`
	ToMCI   uint64 `json:"to_mci,omitempty"`

	// issue
	SerialNumber uint64 `json:"serial_number,omitempty"`
	Amount       int64  `json:"amount,omitempty"` // minted value; issue only, fixed-denomination assets have no implicit amount to fall back on

	Address string `json:"address,omitempty"`
}

// Output is a payment destination. Amount == 0 marks the change slot.
type Output struct {
	Address     string `json:"address"`
	Amount      int64  `json:"amount"`
	Asset       string `json:"asset,omitempty"`
	Denomination string `json:"denomination,omitempty"`
}

// SpendProof accompanies a private-asset message so the recipient can
// later prove the input it spends without revealing the full graph.
// Hashed form: asset+amount+address+unit+msg_idx+out_idx+blinding (§9).
type SpendProof struct {
	SpendProof string `json:"spend_proof"`
	Address    string `json:"address,omitempty"`
	Blinding   string `json:"-"` // known only to sender/recipient, never serialized on the wire
}

// Payment is the payload of an `app: "payment"` message.
type Payment struct {
	Asset        string   `json:"asset,omitempty"`
	Denomination string   `json:"denomination,omitempty"`
	Inputs       []Input  `json:"inputs"`
	Outputs      []Output `json:"outputs"`
}

// Message is one entry of a unit's messages array. Payload is a tagged
// sum: Payment is populated for app=="payment"; Text for app=="text";
// Other carries any other app's payload as a dynamic value (§9).
type Message struct {
	App            string          `json:"app"`
	PayloadLocation PayloadLocation `json:"payload_location"`
	PayloadHash    string          `json:"payload_hash"`
	Payment        *Payment        `json:"payload,omitempty"`
	Text           string          `json:"-"`
	Other          map[string]any  `json:"-"`
	SpendProofs    []SpendProof    `json:"spend_proofs,omitempty"`
}

// WitnessListRef is either an explicit W-list or a reference to a unit
// that declared one; exactly one of the two is populated.
type WitnessListRef struct {
	Witnesses      []string `json:"witnesses,omitempty"`
	WitnessListUnit string  `json:"witness_list_unit,omitempty"`
}

// Unit is the §3 content-addressed DAG node.
type Unit struct {
	Version     string   `json:"version"`
	Alt         string   `json:"alt"`
	Authors     []Author `json:"authors"`
	Messages    []Message `json:"messages"`
	ParentUnits []string `json:"parent_units"`
	WitnessListRef
	LastBall     string `json:"last_ball,omitempty"`
	LastBallUnit string `json:"last_ball_unit,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`

	// Derived, set once by the canonical encoder / store on persist.
	Unit_              string `json:"unit"`
	HeadersCommission  uint64 `json:"headers_commission"`
	PayloadCommission  uint64 `json:"payload_commission"`
	Timestamp          int64  `json:"timestamp,omitempty"`

	// Derived per-unit properties (§3), set once by the ordering engine.
	Level                  uint64   `json:"-"`
	WitnessedLevel         uint64   `json:"-"`
	BestParentUnit         string   `json:"-"`
	LatestIncludedMCIndex  int64    `json:"-"` // -1 means unset
	MainChainIndex         int64    `json:"-"` // -1 means unset
	IsOnMainChain          bool     `json:"-"`
	IsFree                 bool     `json:"-"`
	IsStable               bool     `json:"-"`
	Sequence               Sequence `json:"-"`
	EarnedHeadersCommissionRecipients []Recipient `json:"earned_headers_commission_recipients,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Recipient is a headers-commission recipient share.
type Recipient struct {
	Address string `json:"address"`
	Share   int    `json:"earned_headers_commission_share"` // percent, 0-100
}

// Ball binds a unit's content to its stable position once stabilized.
type Ball struct {
	Unit      string   `json:"unit"`
	Ball      string   `json:"ball"`
	Skiplist  []string `json:"skiplist_units,omitempty"`
}

// GenesisBall is the well-known constant ball for the genesis unit.
const GenesisBall = "oj8yEksX9Jif+GAapvXqre8+BbVAnmY/fXVZnAU0IPw="

// Joint is a unit plus its optional ball/skiplist, the on-wire envelope.
type Joint struct {
	Unit     Unit     `json:"unit"`
	Ball     string   `json:"ball,omitempty"`
	Skiplist []string `json:"skiplist_units,omitempty"`
}
