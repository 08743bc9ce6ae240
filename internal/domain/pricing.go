package domain

// PriceSnapshot is the immutable pricing input a session is opened with.
// Amounts are minor currency units (fils). UnitOldPrice is zero when the
// product has no struck-through price.
type PriceSnapshot struct {
	UnitPrice    int64
	UnitOldPrice int64
	Quantity     int
}

// PriceBreakdown holds the derived totals. It is recomputed from the
// snapshot on every use and never stored, so correctness does not depend on
// cache invalidation.
type PriceBreakdown struct {
	Subtotal int64
	Savings  int64
	Shipping int64
	Total    int64
}

// Breakdown derives subtotal, savings, and total from the snapshot.
// Shipping is fixed at zero. Savings never goes negative, even when the old
// price is missing or below the current price.
func (p PriceSnapshot) Breakdown() PriceBreakdown {
	qty := int64(p.Quantity)
	if qty < 0 {
		qty = 0
	}

	subtotal := p.UnitPrice * qty

	var savings int64
	if p.UnitOldPrice > p.UnitPrice {
		savings = (p.UnitOldPrice - p.UnitPrice) * qty
	}

	return PriceBreakdown{
		Subtotal: subtotal,
		Savings:  savings,
		Shipping: 0,
		Total:    subtotal,
	}
}

// Amount is the charge amount for the snapshot, recomputed on demand. The
// orchestrator calls this at submit time rather than trusting an earlier
// figure.
func (p PriceSnapshot) Amount() int64 {
	return p.Breakdown().Total
}
