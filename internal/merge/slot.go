package merge

import "github.com/sells-group/fundamentals/internal/model"

// Slot is the calling position a statement list occupies during one merge.
// It is independent of the provenance carried by the statements themselves.
type Slot int

const (
	// SlotPrimary holds the already-accumulated list on every call.
	SlotPrimary Slot = iota
	SlotOfficial
	SlotDeep
	SlotFallback
)

var slotNames = [...]string{"primary", "official", "deep", "fallback"}

// String returns the slot name.
func (s Slot) String() string {
	if s < 0 || int(s) >= len(slotNames) {
		return "unknown"
	}
	return slotNames[s]
}

// Source returns the provider nominally associated with the slot. Field
// priority lists are written in provider terms and translated through it.
func (s Slot) Source() model.Source {
	switch s {
	case SlotPrimary:
		return model.SourceYahoo
	case SlotOfficial:
		return model.SourceEDGAR
	case SlotDeep:
		return model.SourceFMP
	case SlotFallback:
		return model.SourceAlphaVantage
	}
	return ""
}

// slotFor is the inverse of Slot.Source.
func slotFor(src model.Source) (Slot, bool) {
	switch src {
	case model.SourceYahoo:
		return SlotPrimary, true
	case model.SourceEDGAR:
		return SlotOfficial, true
	case model.SourceFMP:
		return SlotDeep, true
	case model.SourceAlphaVantage:
		return SlotFallback, true
	}
	return 0, false
}

// kindOrder is the slot order used to resolve a merged statement's period kind.
var kindOrder = []Slot{SlotPrimary, SlotDeep, SlotOfficial, SlotFallback}

const numSlots = 4
