package claim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"xuesigner/internal/domain"
	"xuesigner/internal/metrics"
	"xuesigner/internal/signer"
)

// ClaimSigner signs claim messages.
type ClaimSigner interface {
	Sign(msg domain.ClaimMessage) (domain.Signature, error)
}

// Service turns a redemption request into a signed, time-bounded claim. It
// never mutates the registry.
type Service struct {
	codes  domain.CodeRepository
	signer ClaimSigner
}

func NewService(codes domain.CodeRepository, s ClaimSigner) *Service {
	return &Service{codes: codes, signer: s}
}

// Redeem validates code against the registry and signs a claim for receiver.
// The caller must have verified the CAPTCHA already.
func (s *Service) Redeem(ctx context.Context, code, receiver string, now time.Time) (*domain.SignedClaim, error) {
	res, err := s.redeem(ctx, code, receiver, now)
	metrics.IncRedemption(outcome(err))
	return res, err
}

func (s *Service) redeem(ctx context.Context, code, receiver string, now time.Time) (*domain.SignedClaim, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", domain.ErrInvalidArgument)
	}
	if !signer.IsAddress(receiver) {
		return nil, domain.ErrInvalidReceiver
	}

	entry, ok, err := s.codes.Lookup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("lookup code: %w", err)
	}
	if !ok {
		return nil, domain.ErrUnknownCode
	}
	if entry.Expiry.Before(now) {
		return nil, domain.ErrCodeExpired
	}

	claimBefore := now.Add(domain.ClaimWindow).Round(time.Second).Unix()
	if claimBefore < 0 || claimBefore > math.MaxUint32 {
		return nil, fmt.Errorf("claim deadline %d does not fit uint32", claimBefore)
	}

	msg := domain.ClaimMessage{
		Receiver:    receiver,
		CodeHash:    signer.CodeHash(code),
		ClaimBefore: uint32(claimBefore),
	}
	sig, err := s.signer.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("sign claim: %w", err)
	}
	return &domain.SignedClaim{Message: msg, Signature: sig}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "signed"
	case errors.Is(err, domain.ErrUnknownCode):
		return "unknown_code"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidReceiver):
		return "invalid"
	default:
		return "error"
	}
}
