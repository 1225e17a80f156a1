// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package login

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newAttemptID returns a ULID identifying one login attempt. IDs from the
// same millisecond still sort in issue order, so log lines for a burst of
// requests line up with their traces.
func newAttemptID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
