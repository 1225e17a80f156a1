// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlink/tokenlink/internal/diag"
	"github.com/tokenlink/tokenlink/pkg/errutil"
)

// newDoctorRoot wires doctor to a fake resolver so no real DNS is used.
func newDoctorRoot(t *testing.T, format string) *cobra.Command {
	t.Helper()
	root := NewRootCmd()
	subcommand(t, root, "doctor").RunE = func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd, &doctorConfig{format: format}, diag.Config{Resolver: fakeResolver{}})
	}
	return root
}

func TestDoctorCommand_Healthy(t *testing.T) {
	isolate(t)
	t.Setenv("TOKENLINK_REMOTE__API_KEY", "k")
	store := newRemote(t)

	out, _, err := execute(t, newDoctorRoot(t, formatTable), "doctor", "--remote-url", store.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "supabase.co")
	assert.Contains(t, out, diag.VerdictReachable)
	assert.Contains(t, out, "finished in")
	assert.Equal(t, int32(0), store.stores.Load(), "probes carry no credentials")
}

func TestDoctorCommand_UndeployedFunctions(t *testing.T) {
	isolate(t)
	t.Setenv("TOKENLINK_REMOTE__API_KEY", "k")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	out, _, err := execute(t, newDoctorRoot(t, formatJSON), "doctor", "--remote-url", srv.URL)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DIAGNOSTICS_FAILED")
	assert.Contains(t, out, diag.VerdictMissing)
}

func TestDoctorCommand_InvalidFormat(t *testing.T) {
	_, _, err := execute(t, NewRootCmd(), "doctor", "--format", "xml")
	require.Error(t, err)
}
