package payment

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer turns a challenge into an authorization.
type Signer interface {
	Sign(ctx context.Context, challenge *Challenge) (*Authorization, error)
}

// WalletSigner signs challenges with a local secp256k1 key using EIP-191
// personal messages.
type WalletSigner struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	maxAmount int64
}

// NewWalletSigner loads a hex private key. maxAmount caps what it will sign
// for; zero means no cap.
func NewWalletSigner(hexKey string, maxAmount int64) (*WalletSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key: %w", err)
	}
	return newWalletSigner(key, maxAmount), nil
}

func newWalletSigner(key *ecdsa.PrivateKey, maxAmount int64) *WalletSigner {
	return &WalletSigner{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		maxAmount: maxAmount,
	}
}

func (s *WalletSigner) Address() string {
	return s.address.Hex()
}

func (s *WalletSigner) Sign(ctx context.Context, challenge *Challenge) (*Authorization, error) {
	if challenge == nil {
		return nil, fmt.Errorf("challenge is nil")
	}
	if s.maxAmount > 0 && challenge.Amount > s.maxAmount {
		return nil, fmt.Errorf("%w: %d > %d", ErrAmountExceedsLimit, challenge.Amount, s.maxAmount)
	}

	sig, err := crypto.Sign(accounts.TextHash(challenge.Message()), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign challenge: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return &Authorization{
		Challenge: *challenge,
		Payer:     s.address.Hex(),
		Signature: hexutil.Encode(sig),
	}, nil
}

// RecoverPayer returns the address that produced the authorization's signature.
func RecoverPayer(auth *Authorization) (common.Address, error) {
	sig, err := hexutil.Decode(auth.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrInvalidAuthorization)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(auth.Challenge.Message()), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
