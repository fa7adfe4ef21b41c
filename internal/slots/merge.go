package slots

import (
	"regexp"
	"strings"
)

// Merge combines a stored record with a freshly extracted fragment. Every
// field set in next replaces the one in prev; unset fields keep prev's value.
func Merge(prev, next Record) Record {
	out := prev
	if next.Action != nil {
		out.Action = next.Action
	}
	if next.Amount != nil {
		out.Amount = next.Amount
	}
	if next.TokenIn != nil {
		out.TokenIn = next.TokenIn
	}
	if next.TokenOut != nil {
		out.TokenOut = next.TokenOut
	}
	if next.Protocol != nil {
		out.Protocol = next.Protocol
	}
	if next.Slippage != nil {
		out.Slippage = next.Slippage
	}
	if next.Deadline != nil {
		out.Deadline = next.Deadline
	}
	if next.GasPrice != nil {
		out.GasPrice = next.GasPrice
	}
	return out
}

// ActionChanged reports whether next switches prev to a different action.
func ActionChanged(prev, next Record) bool {
	return prev.Action != nil && next.Action != nil && *prev.Action != *next.Action
}

var knownProtocols = []struct {
	key     string
	display string
}{
	{"aave", "Aave"},
	{"uniswap", "Uniswap"},
	{"compound", "Compound"},
	{"curve", "Curve"},
	{"balancer", "Balancer"},
	{"sushiswap", "SushiSwap"},
	{"maker", "Maker"},
	{"yearn", "Yearn"},
	{"1inch", "1inch"},
	{"venus", "Venus"},
	{"pancakeswap", "PancakeSwap"},
	{"anchor", "Anchor"},
}

var protocolPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(knownProtocols))
	for i, p := range knownProtocols {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p.key) + `\b`)
	}
	return out
}()

// DetectProtocol finds the first known protocol mentioned in text.
func DetectProtocol(text string) (string, bool) {
	for i, re := range protocolPatterns {
		if re.MatchString(text) {
			return knownProtocols[i].display, true
		}
	}
	return "", false
}

// CanonicalProtocol returns the display name of a known protocol.
func CanonicalProtocol(name string) (string, bool) {
	norm := strings.ToLower(strings.TrimSpace(name))
	for _, p := range knownProtocols {
		if p.key == norm {
			return p.display, true
		}
	}
	return "", false
}
