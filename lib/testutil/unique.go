// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need unique identifiers for webhook delivery IDs or
// comment bodies that must be distinguishable across subtests.
//
//	deliveryID := testutil.UniqueID("delivery") // "delivery-1", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
