// Package payment implements the 402 challenge/response flow: a server-side
// Gate that issues and verifies challenges, and a client-side Transport that
// answers them once with a signed authorization.
package payment

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	Scheme = "eip191"

	HeaderPayment      = "X-Payment"
	HeaderReceipt      = "X-Payment-Receipt"
	HeaderAuthenticate = "WWW-Authenticate"
)

var (
	ErrPaymentRequired      = errors.New("payment required")
	ErrInvalidAuthorization = errors.New("invalid payment authorization")
	ErrChallengeExpired     = errors.New("payment challenge expired")
	ErrNonceRedeemed        = errors.New("payment nonce already redeemed")
	ErrAmountExceedsLimit   = errors.New("payment amount exceeds signer limit")
)

// Challenge is what the server asks the caller to sign. Resource is the
// pricing fingerprint of the request; Seal binds the fields to the issuer.
type Challenge struct {
	Scheme    string `json:"scheme"`
	Nonce     string `json:"nonce"`
	Resource  string `json:"resource"`
	Amount    int64  `json:"amount"`
	Asset     string `json:"asset"`
	Decimals  int    `json:"decimals"`
	PayTo     string `json:"pay_to"`
	ExpiresAt int64  `json:"expires_at"`
	Seal      string `json:"seal"`
}

// Message is the canonical text that gets signed.
func (c *Challenge) Message() []byte {
	var b strings.Builder
	b.WriteString("feedgate payment authorization\n")
	b.WriteString("scheme: " + c.Scheme + "\n")
	b.WriteString("resource: " + c.Resource + "\n")
	b.WriteString("amount: " + strconv.FormatInt(c.Amount, 10) + "\n")
	b.WriteString("asset: " + c.Asset + "\n")
	b.WriteString("decimals: " + strconv.Itoa(c.Decimals) + "\n")
	b.WriteString("pay to: " + c.PayTo + "\n")
	b.WriteString("nonce: " + c.Nonce + "\n")
	b.WriteString("expires: " + strconv.FormatInt(c.ExpiresAt, 10))
	return []byte(b.String())
}

// ChallengeResponse is the JSON body of a 402 response.
type ChallengeResponse struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Challenge *Challenge `json:"challenge"`
}

func NewChallengeResponse(challenge *Challenge, message string) ChallengeResponse {
	return ChallengeResponse{
		Status:    "payment_required",
		Message:   message,
		Challenge: challenge,
	}
}

// AuthenticateHeader is the WWW-Authenticate value sent with a challenge.
func AuthenticateHeader(challenge *Challenge) string {
	return fmt.Sprintf(`EIP191 nonce="%s", amount="%d", asset="%s"`, challenge.Nonce, challenge.Amount, challenge.Asset)
}

// ReadChallenge extracts the challenge from a 402 response. The body is
// restored so the response can still be handed to the caller.
func ReadChallenge(resp *http.Response) (*Challenge, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("status %d is not a payment challenge", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("payment challenge has no body")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment challenge: %w", err)
	}

	var body ChallengeResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to parse payment challenge: %w", err)
	}
	if body.Challenge == nil || body.Challenge.Nonce == "" || body.Challenge.Scheme != Scheme {
		return nil, fmt.Errorf("unsupported payment challenge")
	}
	return body.Challenge, nil
}

// Authorization is a signed answer to a challenge, sent base64 encoded in the
// X-Payment header.
type Authorization struct {
	Challenge Challenge `json:"challenge"`
	Payer     string    `json:"payer"`
	Signature string    `json:"signature"`
}

func (a *Authorization) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeAuthorization(header string) (*Authorization, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrInvalidAuthorization)
	}

	var auth Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("%w: bad payload", ErrInvalidAuthorization)
	}
	return &auth, nil
}

// PaymentRequiredError is returned when a request cannot proceed without a
// (new) payment. Challenge is nil when none could be read.
type PaymentRequiredError struct {
	Challenge *Challenge
	Reason    string
}

func (e *PaymentRequiredError) Error() string {
	if e.Reason == "" {
		return ErrPaymentRequired.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPaymentRequired, e.Reason)
}

func (e *PaymentRequiredError) Is(target error) bool {
	return target == ErrPaymentRequired
}
