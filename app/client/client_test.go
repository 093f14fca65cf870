package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/payment"
	"github.com/lysyi3m/feedgate/app/pricing"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeServer struct {
	*httptest.Server
	classifier *pricing.Classifier
	gate       *payment.Gate
	estimates  atomic.Int32
	fetches    atomic.Int32
}

// newFakeServer answers estimates, pricing and bluesky feeds, gating paid
// feeds with a real payment.Gate.
func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ledger, err := payment.NewMemoryLedger(time.Minute)
	require.NoError(t, err)
	gate, err := payment.NewGate(payment.GateConfig{
		Secret: "client-test-secret-value",
		PayTo:  "0x000000000000000000000000000000000000dEaD",
	}, ledger)
	require.NoError(t, err)

	s := &fakeServer{classifier: pricing.NewClassifier(nil), gate: gate}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/pricing" {
		s.writeJSON(w, http.StatusOK, map[string]any{"rules": s.classifier.Tables()})
		return
	}

	connector, estimate := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/feeds/"), "/estimate")
	params, err := pricing.ParseQuery(r.URL.Query())
	if err == nil {
		err = s.classifier.Validate(connector, params)
	}
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_parameter", "message": err.Error()})
		return
	}
	if params.Identifier == "ghost" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "no such user"})
		return
	}

	count := 42
	quote := s.classifier.Estimate(connector, params, &count)
	if estimate {
		s.estimates.Add(1)
		s.writeJSON(w, http.StatusOK, quote)
		return
	}

	s.fetches.Add(1)
	if !quote.IsFree {
		receipt, err := s.gate.Authorize(r.Context(), r.Header.Get(payment.HeaderPayment), quote.Fingerprint, quote.Price)
		var paymentErr *payment.PaymentRequiredError
		if errors.As(err, &paymentErr) {
			w.Header().Set(payment.HeaderAuthenticate, payment.AuthenticateHeader(paymentErr.Challenge))
			s.writeJSON(w, http.StatusPaymentRequired, payment.NewChallengeResponse(paymentErr.Challenge, paymentErr.Reason))
			return
		}
		w.Header().Set(payment.HeaderReceipt, receipt.Nonce)
	}

	params = s.classifier.Defaults(connector, params)
	result := feed.Result{
		Connector: connector,
		Entity:    feed.Entity{ID: "did:plc:alice", Handle: params.Identifier},
		Params:    params,
	}
	for i := range min(params.Limit, count) {
		result.Items = append(result.Items, feed.Item{ID: string(rune('a' + i%26)), Body: "post"})
	}
	s.writeJSON(w, http.StatusOK, result)
}

func TestNew(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "localhost:8080", "http://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}

	c, err := New("https://feeds.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com/feeds/bluesky?q=alice", c.BuildURL("bluesky", feed.RequestParams{Identifier: "@Alice"}))
}

func TestPureHelpersMatchClassifier(t *testing.T) {
	c, err := New("https://feeds.example.com")
	require.NoError(t, err)
	classifier := pricing.NewClassifier(nil)

	params := []feed.RequestParams{
		{Identifier: "alice"},
		{Identifier: "alice", Limit: 10},
		{Identifier: "alice", Limit: 11},
		{Identifier: "alice", All: true},
		{Identifier: "alice", IncludeReactions: true},
		{Identifier: "alice", IncludeReplies: true},
	}
	for _, p := range params {
		assert.Equal(t, classifier.IsFreeTier("farcaster", p), c.IsFreeTier("farcaster", p))
		assert.Equal(t, classifier.Fingerprint("farcaster", p), c.Fingerprint("farcaster", p))
	}
	assert.Equal(t, "farcaster|alice|10|0000", c.Fingerprint("farcaster", feed.RequestParams{Identifier: "alice"}))
}

func TestEstimate(t *testing.T) {
	server := newFakeServer(t)
	c, err := New(server.URL)
	require.NoError(t, err)
	ctx := context.Background()

	free, err := c.Estimate(ctx, "bluesky", feed.RequestParams{Identifier: "alice"})
	require.NoError(t, err)
	assert.True(t, free.IsFree)
	assert.Equal(t, int32(0), server.estimates.Load(), "free estimates stay local")

	paid := feed.RequestParams{Identifier: "alice", All: true}
	quote, err := c.Estimate(ctx, "bluesky", paid)
	require.NoError(t, err)
	assert.False(t, quote.IsFree)
	require.NotNil(t, quote.CountHint)
	assert.Equal(t, 42, *quote.CountHint)
	assert.Equal(t, int64(1000+42*100), quote.Price)

	_, err = c.Estimate(ctx, "bluesky", feed.RequestParams{Identifier: "@ALICE", All: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), server.estimates.Load(), "same fingerprint is served from cache")

	_, err = c.Estimate(ctx, "bluesky", feed.RequestParams{Identifier: "alice", Limit: 5000})
	assert.ErrorIs(t, err, feed.ErrInvalidParameter)
}

func TestFetchFree(t *testing.T) {
	server := newFakeServer(t)
	c, err := New(server.URL)
	require.NoError(t, err)

	result, err := c.Fetch(context.Background(), "bluesky", feed.RequestParams{Identifier: "alice", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, result.Items, 5)
	assert.Equal(t, "did:plc:alice", result.Entity.ID)

	_, err = c.Fetch(context.Background(), "bluesky", feed.RequestParams{Identifier: "ghost"})
	assert.ErrorIs(t, err, feed.ErrNotFound)
}

func TestFetchPaidWithoutSigner(t *testing.T) {
	server := newFakeServer(t)
	c, err := New(server.URL)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "bluesky", feed.RequestParams{Identifier: "alice", Limit: 20})
	require.ErrorIs(t, err, payment.ErrPaymentRequired)

	var paymentErr *payment.PaymentRequiredError
	require.ErrorAs(t, err, &paymentErr)
	require.NotNil(t, paymentErr.Challenge)
	assert.Equal(t, "bluesky|alice|20|0000", paymentErr.Challenge.Resource)
	assert.Equal(t, int32(1), server.fetches.Load())
}

func TestFetchPaidWithSigner(t *testing.T) {
	server := newFakeServer(t)
	signer, err := payment.NewWalletSigner(testKey, 0)
	require.NoError(t, err)
	c, err := New(server.URL, WithSigner(signer))
	require.NoError(t, err)

	result, err := c.Fetch(context.Background(), "bluesky", feed.RequestParams{Identifier: "alice", Limit: 20})
	require.NoError(t, err)
	assert.Len(t, result.Items, 20)
	assert.Equal(t, int32(2), server.fetches.Load())
}

func TestFetchPaidOverSignerLimit(t *testing.T) {
	server := newFakeServer(t)
	signer, err := payment.NewWalletSigner(testKey, 100)
	require.NoError(t, err)
	c, err := New(server.URL, WithSigner(signer))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "bluesky", feed.RequestParams{Identifier: "alice", Limit: 20})
	assert.ErrorIs(t, err, payment.ErrAmountExceedsLimit)
	assert.Equal(t, int32(1), server.fetches.Load())
}

func TestSyncRules(t *testing.T) {
	server := newFakeServer(t)
	limit := 50
	custom := pricing.Default()
	custom.Connectors["bluesky"].FreeTier[1].Max = &limit
	require.NoError(t, server.classifier.Replace(custom))

	c, err := New(server.URL)
	require.NoError(t, err)

	p := feed.RequestParams{Identifier: "alice", Limit: 30}
	assert.False(t, c.IsFreeTier("bluesky", p))

	require.NoError(t, c.SyncRules(context.Background()))
	assert.True(t, c.IsFreeTier("bluesky", p))
}
