package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/lysyi3m/feedgate/app/cache"
)

const DefaultChallengeTTL = 5 * time.Minute

// Receipt records a redeemed authorization.
type Receipt struct {
	Nonce      string    `json:"nonce"`
	Payer      string    `json:"payer"`
	Resource   string    `json:"resource"`
	Amount     int64     `json:"amount"`
	Asset      string    `json:"asset"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Ledger remembers redeemed nonces. Redeem reports false when the nonce was
// already used.
type Ledger interface {
	Redeem(ctx context.Context, receipt Receipt) (bool, error)
}

type GateConfig struct {
	Secret   string
	PayTo    string
	Asset    string
	Decimals int
	TTL      time.Duration
}

// Gate issues challenges and verifies authorizations. Challenges are stateless:
// their fields are sealed with an HMAC so any instance sharing the secret can
// verify them, and only redeemed nonces are stored.
type Gate struct {
	secret   []byte
	payTo    common.Address
	asset    string
	decimals int
	ttl      time.Duration
	ledger   Ledger
	now      func() time.Time
}

type GateOption func(*Gate)

func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(cfg GateConfig, ledger Ledger, opts ...GateOption) (*Gate, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("payment secret must be at least 16 characters")
	}
	if !common.IsHexAddress(cfg.PayTo) {
		return nil, fmt.Errorf("invalid pay-to address: %q", cfg.PayTo)
	}
	if ledger == nil {
		return nil, fmt.Errorf("payment ledger is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultChallengeTTL
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDC"
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 6
	}

	g := &Gate{
		secret:   []byte(cfg.Secret),
		payTo:    common.HexToAddress(cfg.PayTo),
		asset:    cfg.Asset,
		decimals: cfg.Decimals,
		ttl:      cfg.TTL,
		ledger:   ledger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gate) PayTo() string {
	return g.payTo.Hex()
}

func (g *Gate) Asset() string {
	return g.asset
}

// Challenge issues a fresh challenge for resource at amount.
func (g *Gate) Challenge(resource string, amount int64) *Challenge {
	challenge := &Challenge{
		Scheme:    Scheme,
		Nonce:     uuid.NewString(),
		Resource:  resource,
		Amount:    amount,
		Asset:     g.asset,
		Decimals:  g.decimals,
		PayTo:     g.payTo.Hex(),
		ExpiresAt: g.now().Add(g.ttl).Unix(),
	}
	challenge.Seal = g.seal(challenge)
	return challenge
}

func (g *Gate) seal(c *Challenge) string {
	mac := hmac.New(sha256.New, g.secret)
	for _, field := range []string{
		c.Scheme, c.Nonce, c.Resource, strconv.FormatInt(c.Amount, 10), c.Asset,
		strconv.Itoa(c.Decimals), c.PayTo, strconv.FormatInt(c.ExpiresAt, 10),
	} {
		mac.Write([]byte(field))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Authorize checks the X-Payment header for a request priced at amount for
// resource. A missing or unacceptable authorization yields a
// *PaymentRequiredError carrying a fresh challenge; any other error is internal.
func (g *Gate) Authorize(ctx context.Context, header, resource string, amount int64) (*Receipt, error) {
	if header == "" {
		return nil, &PaymentRequiredError{
			Challenge: g.Challenge(resource, amount),
			Reason:    "no payment authorization supplied",
		}
	}

	receipt, err := g.verify(header, resource, amount)
	if err != nil {
		slog.Info("Payment authorization rejected", "resource", resource, "error", err)
		return nil, &PaymentRequiredError{
			Challenge: g.Challenge(resource, amount),
			Reason:    err.Error(),
		}
	}

	redeemed, err := g.ledger.Redeem(ctx, *receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem payment: %w", err)
	}
	if !redeemed {
		slog.Warn("Payment nonce replayed", "nonce", receipt.Nonce, "payer", receipt.Payer)
		return nil, &PaymentRequiredError{
			Challenge: g.Challenge(resource, amount),
			Reason:    ErrNonceRedeemed.Error(),
		}
	}

	slog.Info("Payment accepted", "resource", resource, "payer", receipt.Payer, "amount", receipt.Amount, "asset", receipt.Asset)
	return receipt, nil
}

func (g *Gate) verify(header, resource string, amount int64) (*Receipt, error) {
	auth, err := DecodeAuthorization(header)
	if err != nil {
		return nil, err
	}
	ch := &auth.Challenge

	if ch.Scheme != Scheme {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAuthorization, ch.Scheme)
	}
	if !hmac.Equal([]byte(ch.Seal), []byte(g.seal(ch))) {
		return nil, fmt.Errorf("%w: challenge was not issued here", ErrInvalidAuthorization)
	}
	if g.now().Unix() >= ch.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	if ch.Resource != resource {
		return nil, fmt.Errorf("%w: challenge is for a different request", ErrInvalidAuthorization)
	}
	if ch.Amount < amount {
		return nil, fmt.Errorf("%w: authorized %d, price is %d", ErrInvalidAuthorization, ch.Amount, amount)
	}

	payer, err := RecoverPayer(auth)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(auth.Payer) || payer != common.HexToAddress(auth.Payer) {
		return nil, fmt.Errorf("%w: signature does not match payer", ErrInvalidAuthorization)
	}

	return &Receipt{
		Nonce:      ch.Nonce,
		Payer:      payer.Hex(),
		Resource:   ch.Resource,
		Amount:     ch.Amount,
		Asset:      ch.Asset,
		RedeemedAt: g.now().UTC(),
	}, nil
}

// MemoryLedger keeps redeemed nonces in process for as long as a challenge
// can live.
type MemoryLedger struct {
	nonces *cache.TTL[Receipt]
	ttl    time.Duration
}

func NewMemoryLedger(ttl time.Duration) (*MemoryLedger, error) {
	nonces, err := cache.NewTTL[Receipt]()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &MemoryLedger{nonces: nonces, ttl: ttl}, nil
}

func (l *MemoryLedger) Redeem(ctx context.Context, receipt Receipt) (bool, error) {
	seen := true
	_, err := l.nonces.Resolve(ctx, receipt.Nonce, l.ttl, func(ctx context.Context) (Receipt, error) {
		seen = false
		return receipt, nil
	})
	if err != nil {
		return false, err
	}
	// Only the caller whose function stored the entry redeems it.
	return !seen, nil
}
