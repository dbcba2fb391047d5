package model

// Position is the MACD strategy stance held after a bar closes.
type Position int

const (
	Short   Position = -1
	Neutral Position = 0
	Long    Position = 1
)

func (p Position) String() string {
	switch p {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "neutral"
	}
}

// Crossover marks a short→long (Buy) or long→short (Sell) flip between two
// consecutive positions.
type Crossover int

const (
	NoCrossover Crossover = 0
	Buy         Crossover = 2
	Sell        Crossover = -2
)

func (c Crossover) String() string {
	switch c {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return ""
	}
}

// TradeSignal is the pairs strategy decision for one row.
type TradeSignal string

const (
	ShortALongB TradeSignal = "short_A_long_B"
	ShortBLongA TradeSignal = "short_B_long_A"
	LongAShortB TradeSignal = "long_A_short_B"
	LongBShortA TradeSignal = "long_B_short_A"
	NoTrade     TradeSignal = "no_trade"
)

// TradeSignals lists every signal value in a stable order.
var TradeSignals = []TradeSignal{ShortALongB, ShortBLongA, LongAShortB, LongBShortA, NoTrade}
