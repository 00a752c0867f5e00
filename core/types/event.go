package types

// Event represents a typed state transition emitted by the ledger. Attributes
// carry the escrow id, acting party, amounts and resulting status so external
// indexers can reconstruct history without re-querying state.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
