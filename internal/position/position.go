// Package position
package position

import "fmt"

// State is the coarse position state the transition engine reasons about.
type State int8

const (
	Flat  State = 0
	Long  State = 1
	Short State = -1
)

func (s State) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Position is a snapshot of exchange-held exposure for one symbol.
// Quantity is signed: positive long, negative short, zero flat.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// Amount returns the signed quantity, treating a nil snapshot as flat.
func (p *Position) Amount() float64 {
	if p == nil {
		return 0
	}
	return p.Quantity
}

// State classifies the snapshot.
func (p *Position) State() State {
	switch q := p.Amount(); {
	case q > 0:
		return Long
	case q < 0:
		return Short
	default:
		return Flat
	}
}

func (p *Position) String() string {
	if p == nil {
		return "FLAT"
	}
	return fmt.Sprintf("%s %s %v @ %v", p.Symbol, p.State(), p.Quantity, p.EntryPrice)
}
