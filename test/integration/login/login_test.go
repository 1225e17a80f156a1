// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

//go:build integration

package login_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tokenlink/tokenlink/internal/config"
	"github.com/tokenlink/tokenlink/internal/core"
	"github.com/tokenlink/tokenlink/internal/gateway"
	"github.com/tokenlink/tokenlink/internal/tokenstore"
)

// fakeStore mimics the remote store edge function.
type fakeStore struct {
	server *httptest.Server
	status atomic.Int32

	mu      sync.Mutex
	records []tokenstore.Record
	auth    []string
}

func newFakeStore() *fakeStore {
	s := &fakeStore{}
	s.status.Store(http.StatusOK)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenstore.StorePath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var rec tokenstore.Record
		_ = json.Unmarshal(body, &rec)
		s.mu.Lock()
		s.records = append(s.records, rec)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()
		w.WriteHeader(int(s.status.Load()))
	}))
	return s
}

func (s *fakeStore) Records() []tokenstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tokenstore.Record(nil), s.records...)
}

func (s *fakeStore) Auth() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

type loginResult struct {
	Status     int
	RetryAfter string
	Body       map[string]any
}

func requestLogin(baseURL string, playerID uuid.UUID, name string) loginResult {
	resp, err := http.Post(baseURL+"/v1/players/"+playerID.String()+"/login", //nolint:noctx // test-local server
		"application/json", strings.NewReader(`{"name":"`+name+`"}`))
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return loginResult{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After"), Body: body}
}

var _ = Describe("Login token issuance", func() {
	var (
		store   *fakeStore
		runtime *core.Runtime
		api     *httptest.Server
		now     atomic.Pointer[time.Time]
		cfg     *config.Config
	)

	advance := func(d time.Duration) {
		t := now.Load().Add(d)
		now.Store(&t)
	}

	BeforeEach(func() {
		store = newFakeStore()
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		now.Store(&start)

		c := config.Default()
		c.Remote.BaseURL = store.server.URL
		c.Remote.APIKey = "service-key"
		cfg = &c

		var err error
		runtime, err = core.New(cfg, "integration", core.Deps{
			Logger: slog.New(slog.DiscardHandler),
			Clock:  func() time.Time { return *now.Load() },
		})
		Expect(err).NotTo(HaveOccurred())

		handler := gateway.NewHandler(gateway.HandlerConfig{Runtime: runtime})
		api = httptest.NewServer(handler.Routes())
	})

	AfterEach(func() {
		api.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(runtime.Shutdown(ctx)).To(Succeed())
		store.server.Close()
	})

	Describe("a successful request", func() {
		It("stores the token with the player and expiry and returns a link", func() {
			playerID := uuid.New()

			res := requestLogin(api.URL, playerID, "Steve")

			Expect(res.Status).To(Equal(http.StatusOK))
			Expect(res.Body["url"]).To(HavePrefix(config.DefaultLoginURL + "?token="))

			records := store.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Token).To(Equal(res.Body["token"]))
			Expect(records[0].PlayerID).To(Equal(playerID.String()))
			Expect(records[0].PlayerName).To(Equal("Steve"))
			Expect(records[0].ExpiresAt).To(Equal(time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC).Unix()))
			Expect(store.Auth()).To(ConsistOf("Bearer service-key"))
		})

		It("puts the player on cooldown for the configured window", func() {
			playerID := uuid.New()
			Expect(requestLogin(api.URL, playerID, "Steve").Status).To(Equal(http.StatusOK))

			advance(45 * time.Second)
			res := requestLogin(api.URL, playerID, "Steve")
			Expect(res.Status).To(Equal(http.StatusTooManyRequests))
			Expect(res.RetryAfter).To(Equal("15"))
			Expect(res.Body["message"]).To(Equal("Please wait 15s before using /login again!"))
			Expect(store.Records()).To(HaveLen(1))

			advance(15 * time.Second)
			Expect(requestLogin(api.URL, playerID, "Steve").Status).To(Equal(http.StatusOK))
			Expect(store.Records()).To(HaveLen(2))
		})

		It("keeps players independent", func() {
			Expect(requestLogin(api.URL, uuid.New(), "Steve").Status).To(Equal(http.StatusOK))
			Expect(requestLogin(api.URL, uuid.New(), "Alex").Status).To(Equal(http.StatusOK))
		})
	})

	Describe("a failed request", func() {
		It("does not start a cooldown when the store rejects the token", func() {
			store.status.Store(http.StatusInternalServerError)
			playerID := uuid.New()

			res := requestLogin(api.URL, playerID, "Steve")
			Expect(res.Status).To(Equal(http.StatusBadGateway))
			Expect(res.Body["message"]).To(Equal("Failed to generate login link. Try again later."))
			Expect(runtime.IsOnCooldown(playerID)).To(BeFalse())

			store.status.Store(http.StatusCreated)
			Expect(requestLogin(api.URL, playerID, "Steve").Status).To(Equal(http.StatusOK))
		})

		It("does not retry and does not start a cooldown when the store is down", func() {
			store.server.Close()
			playerID := uuid.New()

			res := requestLogin(api.URL, playerID, "Steve")
			Expect(res.Status).To(Equal(http.StatusBadGateway))
			Expect(runtime.IsOnCooldown(playerID)).To(BeFalse())
		})
	})

	Describe("reconfiguration", func() {
		It("applies a new window to existing cooldowns", func() {
			playerID := uuid.New()
			Expect(requestLogin(api.URL, playerID, "Steve").Status).To(Equal(http.StatusOK))
			advance(20 * time.Second)

			next := *cfg
			next.Cooldown.Seconds = 10
			Expect(runtime.Reconfigure(&next)).To(Succeed())
			Expect(runtime.IsOnCooldown(playerID)).To(BeFalse())

			next.Cooldown.Seconds = 120
			Expect(runtime.Reconfigure(&next)).To(Succeed())
			Expect(runtime.IsOnCooldown(playerID)).To(BeTrue())
			Expect(runtime.Remaining(playerID)).To(Equal(100 * time.Second))
		})

		It("rejects an invalid configuration and keeps serving", func() {
			bad := *cfg
			bad.Remote.APIKey = ""
			Expect(runtime.Reconfigure(&bad)).NotTo(Succeed())
			Expect(requestLogin(api.URL, uuid.New(), "Steve").Status).To(Equal(http.StatusOK))
		})
	})

	Describe("concurrent requests for one player", func() {
		It("never loses a token and never panics", func() {
			playerID := uuid.New()
			var wg sync.WaitGroup
			statuses := make([]int, 8)
			for i := range statuses {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = requestLogin(api.URL, playerID, "Steve").Status
				}()
			}
			wg.Wait()

			issued := 0
			for _, s := range statuses {
				Expect(s).To(BeElementOf(http.StatusOK, http.StatusTooManyRequests))
				if s == http.StatusOK {
					issued++
				}
			}
			Expect(issued).To(BeNumerically(">=", 1))
			Expect(store.Records()).To(HaveLen(issued))
		})
	})

	Describe("shutdown", func() {
		It("refuses new requests", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			Expect(runtime.Shutdown(ctx)).To(Succeed())

			res := requestLogin(api.URL, uuid.New(), "Steve")
			Expect(res.Status).To(Equal(http.StatusServiceUnavailable))
			Expect(store.Records()).To(BeEmpty())
		})
	})
})
