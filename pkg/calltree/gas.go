package calltree

import "github.com/georgecane/contractvm/pkg/vmerrors"

// Meter tracks the remaining gas for a single call frame. The engine holds
// one Meter per live frame; a nested call reserves a slice of the caller's
// remaining budget into a fresh Meter for the callee.
type Meter struct {
	remaining uint64
	limit     uint64
}

// NewMeter returns a Meter with the given limit fully available.
func NewMeter(limit uint64) *Meter {
	return &Meter{remaining: limit, limit: limit}
}

// Limit returns the gas limit this meter was created with.
func (m *Meter) Limit() uint64 { return m.limit }

// Spent returns the amount of gas consumed so far.
func (m *Meter) Spent() uint64 { return m.limit - m.remaining }

// Remaining returns the gas left before OUT_OF_GAS.
func (m *Meter) Remaining() uint64 { return m.remaining }

// Charge deducts cost gas points from the meter. Reaching zero or going
// negative raises OUT_OF_GAS and terminates the current frame only; the
// meter is left at zero remaining.
func (m *Meter) Charge(cost uint64) error {
	if cost > m.remaining {
		m.remaining = 0
		return vmerrors.New(vmerrors.OutOfGas, "gas exhausted")
	}
	m.remaining -= cost
	return nil
}

// Reserve carves out a child budget of size limit from this meter's
// remaining gas, for a nested call. Insufficient remaining gas fails with
// OUT_OF_GAS and reserves nothing.
func (m *Meter) Reserve(limit uint64) (*Meter, error) {
	if limit > m.remaining {
		return nil, vmerrors.New(vmerrors.OutOfGas, "insufficient gas to reserve for nested call")
	}
	m.remaining -= limit
	return NewMeter(limit), nil
}

// Refund returns unspent gas from a finished child meter to this (parent)
// meter, per spec §4.4: "on child return, unspent gas is refunded to the
// parent".
func (m *Meter) Refund(child *Meter) {
	m.remaining += child.Remaining()
}
