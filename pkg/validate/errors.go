package validate

import "fmt"

// StructuralError covers hash mismatches, missing fields, bad lengths —
// anything that quarantines the joint outright (§7).
type StructuralError struct{ Reason string }

func (e *StructuralError) Error() string { return fmt.Sprintf("structural error: %s", e.Reason) }

// SignatureError means an author's authentifiers failed to satisfy their
// definition.
type SignatureError struct{ Address string }

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature error: author %s", e.Address)
}

// NeedParentUnits means content could not be verified because one or
// more ancestors are missing; this is not an error to the caller — the
// unit is buffered and the listed units are requested (§4.D).
type NeedParentUnits struct{ Units []string }

func (e *NeedParentUnits) Error() string {
	return fmt.Sprintf("need parent units: %v", e.Units)
}

// ConflictError is a double-spend detected against an already-stable
// unit.
type ConflictError struct{ Reason string }

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict: %s", e.Reason) }

// WitnessChanged means a witness address carries a referencing
// definition, which the "no references" rule forbids.
type WitnessChanged struct{ Address string }

func (e *WitnessChanged) Error() string {
	return fmt.Sprintf("witness changed: %s has a referencing definition", e.Address)
}
