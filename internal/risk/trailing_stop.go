package risk

// Stops only ever move in the direction that reduces risk: up for longs,
// down for shorts.

// TrailCandidate returns the stop that trails price by trailingPercent on
// the loss side of the position
func TrailCandidate(side Side, price, trailingPercent float64) float64 {
	if side == Short {
		return price * (1 + trailingPercent/100)
	}
	return price * (1 - trailingPercent/100)
}

// IsTighter reports whether candidate strictly reduces potential loss
// compared to current
func IsTighter(side Side, current, candidate float64) bool {
	if side == Short {
		return candidate < current
	}
	return candidate > current
}

// Tighten returns candidate if it is tighter than current, otherwise current
func Tighten(side Side, current, candidate float64) float64 {
	if IsTighter(side, current, candidate) {
		return candidate
	}
	return current
}

// StopHit reports whether price has crossed the stop against the position
func StopHit(side Side, stop, price float64) bool {
	if side == Short {
		return price >= stop
	}
	return price <= stop
}

// InProfitBeyond reports whether price sits more than bufferPercent in the
// position's favour relative to reference
func InProfitBeyond(side Side, reference, price, bufferPercent float64) bool {
	if side == Short {
		return price < reference*(1-bufferPercent/100)
	}
	return price > reference*(1+bufferPercent/100)
}

// FavourableMovePercent is the signed move from reference to price, positive
// when it favours the position
func FavourableMovePercent(side Side, reference, price float64) float64 {
	if reference <= 0 {
		return 0
	}
	if side == Short {
		return (reference - price) / reference * 100
	}
	return (price - reference) / reference * 100
}
