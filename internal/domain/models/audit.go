package models

import "time"

// CountSnapshot is the state of a batch's loss counters.
type CountSnapshot struct {
	Dead         int `bson:"dead" json:"dead"`
	Culled       int `bson:"culled" json:"culled"`
	Offlaid      int `bson:"offlaid" json:"offlaid"`
	CurrentCount int `bson:"current_count" json:"currentCount"`
}

// AuditEntry is an immutable record of one loss-count mutation. CreatedAt is
// when the mutation happened; PersistedAt is stamped by storage on insert, so
// entries written late by the retry queue still sort after earlier inserts.
type AuditEntry struct {
	ID          string        `bson:"_id" json:"id"`
	BatchID     string        `bson:"batch_id" json:"batchId"`
	FarmID      string        `bson:"farm_id" json:"farmId"`
	ActorID     string        `bson:"actor_id" json:"actorId"`
	ActorName   string        `bson:"actor_name" json:"actorName"`
	Dead        int           `bson:"dead" json:"dead"`
	Culled      int           `bson:"culled" json:"culled"`
	Offlaid     int           `bson:"offlaid" json:"offlaid"`
	Reason      string        `bson:"reason,omitempty" json:"reason,omitempty"`
	Notes       string        `bson:"notes,omitempty" json:"notes,omitempty"`
	BeforeState CountSnapshot `bson:"before_state" json:"beforeState"`
	AfterState  CountSnapshot `bson:"after_state" json:"afterState"`
	Revision    int64         `bson:"revision" json:"revision"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
	PersistedAt time.Time     `bson:"persisted_at" json:"persistedAt"`
}

// LossResult is returned after a successful loss mutation.
type LossResult struct {
	Batch        Batch  `json:"batch"`
	AuditID      string `json:"auditId"`
	AuditPending bool   `json:"auditPending,omitempty"`
}
