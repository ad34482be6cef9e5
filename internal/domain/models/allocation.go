package models

import "time"

// Allocation records how many birds of a batch sit in a house.
type Allocation struct {
	ID        string    `bson:"_id" json:"id"`
	FarmID    string    `bson:"farm_id" json:"farmId"`
	BatchID   string    `bson:"batch_id" json:"batchId"`
	HouseID   string    `bson:"house_id" json:"houseId"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// TransferResult holds both sides of a transfer. From is zero-quantity when
// the source allocation was drained and removed.
type TransferResult struct {
	From Allocation `json:"from"`
	To   Allocation `json:"to"`
}

// Drift describes a mismatch between a guard counter and the allocation table.
type Drift struct {
	Kind     string `json:"kind"` // "batch" or "house"
	ID       string `json:"id"`
	FarmID   string `json:"farmId"`
	Counter  int    `json:"counter"`
	Computed int    `json:"computed"`
}
