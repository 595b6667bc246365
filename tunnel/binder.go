package tunnel

// Binding pairs a slot with the asset at the same index, if any.
type Binding[T any] struct {
	Index int
	Slot  Slot
	Asset T
	Bound bool
}

// Bind is strictly positional: slot i receives asset i. Slots past the end
// of assets stay unbound and assets past the end of slots are not placed.
func Bind[T any](slots []Slot, assets []T) []Binding[T] {
	out := make([]Binding[T], len(slots))
	for i, slot := range slots {
		out[i] = Binding[T]{Index: i, Slot: slot}
		if i < len(assets) {
			out[i].Asset = assets[i]
			out[i].Bound = true
		}
	}
	return out
}

// BindExtended grows the blueprint first when there are more assets than
// slots, so every asset gets a slot.
func BindExtended[T any](cfg Config, assets []T) (Config, []Binding[T]) {
	if len(assets) > len(cfg.Slots) {
		cfg = Extend(cfg, len(assets))
	} else {
		cfg = cfg.Clone()
	}
	return cfg, Bind(cfg.Slots, assets)
}

// BoundCount reports how many bindings carry an asset.
func BoundCount[T any](bindings []Binding[T]) int {
	n := 0
	for _, b := range bindings {
		if b.Bound {
			n++
		}
	}
	return n
}
