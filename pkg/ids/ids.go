// Package ids generates the venue's entity identifiers.
package ids

import "github.com/google/uuid"

func NewOrderID() string        { return "ord_" + uuid.NewString() }
func NewMatchID() string        { return "mat_" + uuid.NewString() }
func NewPairID() string         { return "pair_" + uuid.NewString() }
func NewSettlementLogID() string { return "stl_" + uuid.NewString() }
func NewSubscriptionID() string { return "sub_" + uuid.NewString() }
func NewBatchID() string        { return "batch_" + uuid.NewString() }
