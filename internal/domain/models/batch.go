package models

import "time"

// Batch is a cohort of birds received together and tracked as one unit.
type Batch struct {
	ID            string    `bson:"_id" json:"id"`
	FarmID        string    `bson:"farm_id" json:"farmId"`
	Name          string    `bson:"name" json:"name"`
	OriginalCount int       `bson:"original_count" json:"originalCount"`
	Dead          int       `bson:"dead" json:"dead"`
	Culled        int       `bson:"culled" json:"culled"`
	Offlaid       int       `bson:"offlaid" json:"offlaid"`
	Allocated     int       `bson:"allocated" json:"-"`
	Revision      int64     `bson:"revision" json:"revision"`
	IsArchived    bool      `bson:"is_archived" json:"isArchived"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
}

// Losses returns the total of dead, culled and off-laid birds.
func (b Batch) Losses() int {
	return b.Dead + b.Culled + b.Offlaid
}

// CurrentCount is the living, un-removed headcount.
func (b Batch) CurrentCount() int {
	return b.OriginalCount - b.Losses()
}

// Snapshot captures the loss counters at a point in time.
func (b Batch) Snapshot() CountSnapshot {
	return CountSnapshot{
		Dead:         b.Dead,
		Culled:       b.Culled,
		Offlaid:      b.Offlaid,
		CurrentCount: b.CurrentCount(),
	}
}

// LossDelta holds the increments requested for each loss category.
// Nil fields are left untouched.
type LossDelta struct {
	Dead    *int `json:"dead,omitempty"`
	Culled  *int `json:"culled,omitempty"`
	Offlaid *int `json:"offlaid,omitempty"`
}

// Empty reports whether no category was supplied.
func (d LossDelta) Empty() bool {
	return d.Dead == nil && d.Culled == nil && d.Offlaid == nil
}

// Counts returns the deltas with missing categories as zero.
func (d LossDelta) Counts() (dead, culled, offlaid int) {
	return deref(d.Dead), deref(d.Culled), deref(d.Offlaid)
}

// Total is the sum of all supplied deltas.
func (d LossDelta) Total() int {
	dead, culled, offlaid := d.Counts()
	return dead + culled + offlaid
}

// Availability is a read-only projection of a batch's headcount.
type Availability struct {
	BatchID            string `json:"batchId"`
	OriginalCount      int    `json:"originalCount"`
	Dead               int    `json:"dead"`
	Culled             int    `json:"culled"`
	Offlaid            int    `json:"offlaid"`
	CurrentCount       int    `json:"currentCount"`
	AllocatedCount     int    `json:"allocatedCount"`
	UnallocatedCount   int    `json:"unallocatedCount"`
	OverAllocatedCount int    `json:"overAllocatedCount,omitempty"`
}

// Actor identifies who requested a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// IntPtr is a small helper for building deltas.
func IntPtr(v int) *int {
	return &v
}
