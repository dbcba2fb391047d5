package model

import (
	"fmt"
	"strings"
)

// Instrument identifies a tradeable symbol on a broker exchange.
// Broker-backed loaders address instruments as "EXCHANGE:TOKEN"
// (e.g. "NSE:3045"); ticker-based loaders use Token alone.
type Instrument struct {
	Exchange string `json:"exchange"`
	Token    string `json:"token"`
}

// Key returns "exchange:token", or just the token when no exchange is set.
func (i *Instrument) Key() string {
	if i.Exchange == "" {
		return i.Token
	}
	return i.Exchange + ":" + i.Token
}

// ParseInstrument splits "EXCHANGE:TOKEN". A bare token yields defaultExchange.
func ParseInstrument(s, defaultExchange string) (Instrument, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Instrument{}, fmt.Errorf("empty instrument")
	}
	ex, tok, found := strings.Cut(s, ":")
	if !found {
		return Instrument{Exchange: defaultExchange, Token: s}, nil
	}
	if ex == "" || tok == "" {
		return Instrument{}, fmt.Errorf("malformed instrument %q", s)
	}
	return Instrument{Exchange: strings.ToUpper(ex), Token: tok}, nil
}
