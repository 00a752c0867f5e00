package reputation

// BpsDenominator expresses rates in basis points for integer precision:
// 1 completed of 3 total yields 3333, not 33.
const BpsDenominator = 10_000

// CompletionRateBps returns the completion rate in basis points. Agents with
// no escrows report zero rather than dividing by zero.
func CompletionRateBps(completed, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return completed * BpsDenominator / total
}
