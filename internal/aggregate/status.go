package aggregate

// Status is where one symbol's fetch stands:
// Pending -> (CacheHit | ChainAttempt) -> (Succeeded | Failed).
type Status int

const (
	Pending Status = iota
	CacheHit
	ChainAttempt
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case CacheHit:
		return "cache_hit"
	case ChainAttempt:
		return "chain_attempt"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
// CacheHit is terminal too: the quote is stored with its analysis.
func (s Status) Terminal() bool {
	return s == CacheHit || s == Succeeded || s == Failed
}
