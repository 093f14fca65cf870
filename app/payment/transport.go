package payment

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Transport is an http.RoundTripper that answers one payment challenge per
// request. The request is first sent unmodified; on a 402 with a readable
// challenge the Signer is asked for an authorization and the request is
// retried once with it. A second 402 is returned as *PaymentRequiredError.
// Without a Signer the original 402 response is returned untouched.
type Transport struct {
	Base   http.RoundTripper
	Signer Signer
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired || t.Signer == nil {
		return resp, err
	}

	challenge, err := ReadChallenge(resp)
	if err != nil {
		slog.Debug("Unreadable payment challenge, returning response as-is", "url", req.URL.String(), "error", err)
		return resp, nil
	}

	retry, err := rewind(req)
	if err != nil {
		return resp, nil
	}

	auth, err := t.Signer.Sign(req.Context(), challenge)
	if err != nil {
		drain(resp)
		return nil, fmt.Errorf("failed to sign payment challenge: %w", err)
	}
	header, err := auth.Encode()
	if err != nil {
		drain(resp)
		return nil, fmt.Errorf("failed to encode payment authorization: %w", err)
	}
	drain(resp)

	retry.Header.Set(HeaderPayment, header)
	slog.Debug("Retrying with payment authorization", "url", req.URL.String(), "amount", challenge.Amount, "asset", challenge.Asset)

	resp, err = t.base().RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		paymentErr := &PaymentRequiredError{Reason: "payment was not accepted"}
		if next, err := ReadChallenge(resp); err == nil {
			paymentErr.Challenge = next
		}
		drain(resp)
		return nil, paymentErr
	}
	return resp, nil
}

// rewind clones req with a fresh body for a second attempt.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
