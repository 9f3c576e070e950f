package convert

// VectorRecord is one row of a train or test array.
type VectorRecord struct {
	Idx       int       `json:"idx"`
	Embedding []float64 `json:"embedding"`
}

// NeighborRecord is one row of the reference neighbors array, in rank order.
type NeighborRecord struct {
	Idx       int     `json:"idx"`
	Neighbors []int64 `json:"neighbors"`
}
