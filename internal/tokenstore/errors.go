// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package tokenstore

// Error codes produced by the token store client.
const (
	// CodeTransportError means the request never completed: DNS, TLS,
	// connection failures and timeouts all land here.
	CodeTransportError = "TRANSPORT_ERROR"

	// CodeRemoteRejected means the store answered with a non-2xx status.
	CodeRemoteRejected = "REMOTE_REJECTED"

	// CodeConfigInvalid means the client could not be built from its config.
	CodeConfigInvalid = "CONFIG_INVALID"

	// CodeInvalidRecord means a record failed validation before sending.
	CodeInvalidRecord = "INVALID_RECORD"
)
