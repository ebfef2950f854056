package canon

import (
	"encoding/base64"
	"sort"

	"github.com/trustweave/dag-hub/pkg/entity"
)

// unitToMap renders an entity.Unit into the map[string]any shape Encode
// expects, omitting optional fields that are empty. Message payloads are
// not included; each message keeps only its payload_hash.
func unitToMap(u *entity.Unit) map[string]any {
	m := map[string]any{
		"version": u.Version,
		"alt":     u.Alt,
	}
	authors := make([]any, 0, len(u.Authors))
	for _, a := range u.Authors {
		am := map[string]any{"address": a.Address}
		if len(a.Authentifiers) > 0 {
			auth := map[string]any{}
			for k, v := range a.Authentifiers {
				auth[k] = v
			}
			am["authentifiers"] = auth
		}
		if a.Definition != nil {
			am["definition"] = definitionToValue(a.Definition)
		}
		authors = append(authors, am)
	}
	m["authors"] = authors

	if len(u.ParentUnits) > 0 {
		m["parent_units"] = append([]string{}, u.ParentUnits...)
	}
	if len(u.Witnesses) > 0 {
		m["witnesses"] = append([]string{}, u.Witnesses...)
	} else if u.WitnessListUnit != "" {
		m["witness_list_unit"] = u.WitnessListUnit
	}
	if u.LastBall != "" {
		m["last_ball"] = u.LastBall
	}
	if u.LastBallUnit != "" {
		m["last_ball_unit"] = u.LastBallUnit
	}

	msgs := make([]any, 0, len(u.Messages))
	for _, msg := range u.Messages {
		mm := map[string]any{
			"app":              msg.App,
			"payload_location": string(msg.PayloadLocation),
			"payload_hash":     msg.PayloadHash,
		}
		if len(msg.SpendProofs) > 0 {
			sps := make([]any, 0, len(msg.SpendProofs))
			for _, sp := range msg.SpendProofs {
				spm := map[string]any{"spend_proof": sp.SpendProof}
				if sp.Address != "" {
					spm["address"] = sp.Address
				}
				sps = append(sps, spm)
			}
			mm["spend_proofs"] = sps
		}
		msgs = append(msgs, mm)
	}
	m["messages"] = msgs
	if u.Timestamp != 0 {
		m["timestamp"] = u.Timestamp
	}
	return m
}

func definitionToValue(d *entity.Definition) any {
	if d == nil {
		return nil
	}
	if len(d.Sub) == 0 && len(d.Args) == 0 {
		return []any{d.Op}
	}
	args := make([]any, 0, len(d.Args)+len(d.Sub))
	args = append(args, d.Args...)
	for _, s := range d.Sub {
		args = append(args, definitionToValue(s))
	}
	return []any{d.Op, args}
}

// messagePayloadValue renders a message's payload value (the payment's
// inputs and outputs, else its text, else its raw value), used only for
// payload_commission sizing (the naked/hash forms
// strip per-message payload entirely, per §4.A).
func messagePayloadValue(msg *entity.Message) any {
	if msg.Payment != nil {
		inputs := make([]any, 0, len(msg.Payment.Inputs))
		for _, in := range msg.Payment.Inputs {
			inputs = append(inputs, inputToValue(in))
		}
		outputs := make([]any, 0, len(msg.Payment.Outputs))
		for _, out := range msg.Payment.Outputs {
			outputs = append(outputs, outputToValue(out))
		}
		pm := map[string]any{"inputs": inputs, "outputs": outputs}
		if msg.Payment.Asset != "" {
			pm["asset"] = msg.Payment.Asset
		}
		if msg.Payment.Denomination != "" {
			pm["denomination"] = msg.Payment.Denomination
		}
		return pm
	}
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Other
}

func inputToValue(in entity.Input) map[string]any {
	m := map[string]any{"kind": string(in.Kind)}
	switch in.Kind {
	case entity.InputTransfer:
		m["unit"] = in.Unit
		m["message_index"] = in.MessageIndex
		m["output_index"] = in.OutputIndex
	case entity.InputHeadersCommission, entity.InputWitnessing:
		m["from_mci"] = in.FromMCI
		m["to_mci"] = in.ToMCI
	case entity.InputIssue:
		m["serial_number"] = in.SerialNumber
		m["amount"] = in.Amount
	}
	if in.Address != "" {
		m["address"] = in.Address
	}
	return m
}

func outputToValue(out entity.Output) map[string]any {
	m := map[string]any{"address": out.Address, "amount": out.Amount}
	if out.Asset != "" {
		m["asset"] = out.Asset
	}
	if out.Denomination != "" {
		m["denomination"] = out.Denomination
	}
	return m
}

// SigningHash is SHA-256 over the canonical encoding of the "naked" unit:
// stripped of unit, headers_commission, payload_commission,
// main_chain_index, timestamp, per-message payload/payload_uri, and
// every author's authentifiers (the signatures themselves can't be part
// of what they sign over, regardless of whether they've been filled in
// yet). Each author's definition, by contrast, is included whenever
// present -- callers must set it before calling SigningHash for any
// author whose definition is meant to be covered by the signature.
func SigningHash(u *entity.Unit) [32]byte {
	m := unitToMap(u)
	delete(m, "timestamp")
	authors := m["authors"].([]any)
	nakedAuthors := make([]any, len(authors))
	for i, raw := range authors {
		am := raw.(map[string]any)
		cp := map[string]any{}
		for k, v := range am {
			cp[k] = v
		}
		delete(cp, "authentifiers")
		nakedAuthors[i] = cp
	}
	m["authors"] = nakedAuthors
	msgs := m["messages"].([]any)
	stripped := make([]any, len(msgs))
	for i, raw := range msgs {
		mm := raw.(map[string]any)
		cp := map[string]any{}
		for k, v := range mm {
			cp[k] = v
		}
		delete(cp, "payload")
		delete(cp, "payload_uri")
		stripped[i] = cp
	}
	m["messages"] = stripped
	return Hash(m)
}

// ContentHash is SHA-256 over the canonical encoding of the naked unit
// with authors and messages kept intact (definitions, authentifiers and
// all) but message payloads stripped: it content-addresses what was
// actually signed and sent, not what was signed over, and lets a ball
// reference a unit's content without needing the bulky payload around.
// It never reads u.ContentHash -- that would make the hash depend on
// itself -- every caller gets it fresh from the unit's other fields.
func ContentHash(u *entity.Unit) [32]byte {
	m := unitToMap(u)
	delete(m, "timestamp")
	return Hash(m)
}

// ContentHashString is ContentHash, base64-encoded.
func ContentHashString(u *entity.Unit) string {
	h := ContentHash(u)
	return base64.StdEncoding.EncodeToString(h[:])
}

// UnitHash is SHA-256 over the canonical encoding of a further-stripped
// form that retains only {alt, authors.address[], content_hash,
// last_ball?, last_ball_unit?, parent_units[], version,
// witnesses[]|witness_list_unit}. content_hash is always present,
// computed fresh by ContentHashString rather than trusted from the
// unit's own ContentHash field.
func UnitHash(u *entity.Unit) [32]byte {
	m := map[string]any{
		"version": u.Version,
		"alt":     u.Alt,
	}
	addrs := make([]string, 0, len(u.Authors))
	for _, a := range u.Authors {
		addrs = append(addrs, a.Address)
	}
	sort.Strings(addrs)
	m["authors"] = addrs
	if len(u.ParentUnits) > 0 {
		m["parent_units"] = append([]string{}, u.ParentUnits...)
	}
	if len(u.Witnesses) > 0 {
		m["witnesses"] = append([]string{}, u.Witnesses...)
	} else if u.WitnessListUnit != "" {
		m["witness_list_unit"] = u.WitnessListUnit
	}
	if u.LastBall != "" {
		m["last_ball"] = u.LastBall
	}
	if u.LastBallUnit != "" {
		m["last_ball_unit"] = u.LastBallUnit
	}
	m["content_hash"] = ContentHashString(u)
	return Hash(m)
}

// SpendProofHash is SHA-256 over asset+amount+address+unit+msg_idx+
// out_idx+blinding (§9), the private-asset spend proof a recipient
// later needs to prove which input a message actually spends.
func SpendProofHash(asset string, amount int64, address, unit string, msgIndex, outIndex int, blinding string) [32]byte {
	m := map[string]any{
		"asset":    asset,
		"amount":   amount,
		"address":  address,
		"unit":     unit,
		"msg_idx":  msgIndex,
		"out_idx":  outIndex,
		"blinding": blinding,
	}
	return Hash(m)
}

// SpendProofHashString is SpendProofHash, base64-encoded.
func SpendProofHashString(asset string, amount int64, address, unit string, msgIndex, outIndex int, blinding string) string {
	h := SpendProofHash(asset, amount, address, unit, msgIndex, outIndex, blinding)
	return base64.StdEncoding.EncodeToString(h[:])
}

// UnitHashString is the base64 representation used as the unit's stable
// identifier throughout the rest of the system (spec's HASH_LENGTH=44
// corresponds to standard base64 of a 32-byte SHA-256 digest).
func UnitHashString(u *entity.Unit) string {
	h := UnitHash(u)
	return base64.StdEncoding.EncodeToString(h[:])
}

// HeadersCommissionSize is the byte-size of the header encoding plus
// 2*44 for the parents field, per spec §3.
func HeadersCommissionSize(u *entity.Unit) uint64 {
	m := unitToMap(u)
	delete(m, "messages")
	return Size(m) + 2*44
}

// PayloadCommissionSize is the size of the messages array (naked form:
// payload/payload_uri included, since payload commission pays for the
// content itself).
func PayloadCommissionSize(u *entity.Unit) uint64 {
	var total uint64
	for i := range u.Messages {
		msg := &u.Messages[i]
		mm := map[string]any{
			"app":              msg.App,
			"payload_location": string(msg.PayloadLocation),
			"payload_hash":     msg.PayloadHash,
			"payload":          messagePayloadValue(msg),
		}
		total += Size(mm)
	}
	return total
}
