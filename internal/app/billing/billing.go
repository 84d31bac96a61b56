// Package billing turns a finished call into a receipt and, for the
// call-management service, settles its cost.
package billing

import (
	"fmt"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/protocol"
)

// Receipt is what a party is shown once a call is over.
type Receipt struct {
	CallID domain.CallID `json:"call_id"`
	// Duration is in minutes.
	Duration float64 `json:"duration"`
	Cost     int     `json:"cost"`
}

// FromEnvelope reads a call_ended notification. Missing fields count as zero.
func FromEnvelope(id domain.CallID, env protocol.Envelope) Receipt {
	r := Receipt{CallID: id}
	if env.Duration != nil {
		r.Duration = *env.Duration
	}
	if env.Cost != nil {
		r.Cost = *env.Cost
	}
	return r
}

func FromResult(id domain.CallID, res core.EndResult) Receipt {
	return Receipt{CallID: id, Duration: res.Duration, Cost: res.Cost}
}

func (r Receipt) String() string {
	return fmt.Sprintf("Call ended. Duration: %.1f minutes. Cost: %d tokens", r.Duration, r.Cost)
}

// Tariff holds the settlement rules of the call-management service.
type Tariff struct {
	MinCost     int     `mapstructure:"min_cost"`
	MinBalance  int     `mapstructure:"min_balance"`
	PlatformFee float64 `mapstructure:"platform_fee"`
}

func DefaultTariff() Tariff {
	return Tariff{MinCost: 10, MinBalance: 10, PlatformFee: 0.15}
}

// Settlement is the outcome of one call.
type Settlement struct {
	Minutes float64
	// Cost is debited from the caller.
	Cost int
	// Payout is credited to the professional.
	Payout int
}

// Settle prices a call. A call that was never accepted costs nothing.
func (t Tariff) Settle(started bool, minutes, pricePerMinute float64) Settlement {
	if !started {
		return Settlement{}
	}
	cost := max(t.MinCost, int(minutes*pricePerMinute))
	payout := int(float64(cost) * (1 - t.PlatformFee))
	return Settlement{Minutes: minutes, Cost: cost, Payout: payout}
}

// CanAfford reports whether balance is enough to place a call.
func (t Tariff) CanAfford(balance int) bool {
	return balance >= t.MinBalance
}
