package models

import "time"

// House is a physical building birds are placed into.
// A nil Capacity means the house declares no limit; zero is a real limit.
type House struct {
	ID        string    `bson:"_id" json:"id"`
	FarmID    string    `bson:"farm_id" json:"farmId"`
	Name      string    `bson:"name" json:"name"`
	Capacity  *int      `bson:"capacity,omitempty" json:"capacity,omitempty"`
	Occupancy int       `bson:"occupancy" json:"occupancy"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Bounded reports whether the house enforces a capacity.
func (h House) Bounded() bool {
	return h.Capacity != nil
}

// Fits reports whether total birds stay within the declared capacity.
func (h House) Fits(total int) bool {
	return h.Capacity == nil || total <= *h.Capacity
}

// Limit returns the declared capacity, or zero for an unbounded house.
func (h House) Limit() int {
	if h.Capacity == nil {
		return 0
	}
	return *h.Capacity
}
