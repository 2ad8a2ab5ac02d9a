package ledger

// Token selects one of the two sides of the market. The choice is
// closed: no third side is ever introduced, so all dispatch on Token
// is exhaustive switching rather than polymorphism.
type Token uint8

const (
	TokenA Token = 0
	TokenB Token = 1
)

// Opposite returns the other side of the market.
func (t Token) Opposite() Token {
	if t == TokenA {
		return TokenB
	}
	return TokenA
}

func (t Token) String() string {
	switch t {
	case TokenA:
		return "A"
	case TokenB:
		return "B"
	default:
		return "unknown"
	}
}
