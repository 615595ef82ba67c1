package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"xuesigner/internal/domain"
	"xuesigner/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"
)

const primaryType = "Claim"

// DomainConfig scopes signatures to one application, chain and contract.
type DomainConfig struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

var claimTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "receiver", Type: "address"},
		{Name: "codeHash", Type: "bytes32"},
		{Name: "claimBefore", Type: "uint32"},
	},
}

// Signer produces EIP-712 signatures over claim messages with one fixed key.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	typedDom apitypes.TypedDataDomain
}

// New parses the hex private key (with or without 0x) and validates the
// domain. Any problem with the key is reported as ErrSigningKeyUnavailable.
func New(privateKeyHex string, cfg DomainConfig) (*Signer, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	if !IsAddress(cfg.VerifyingContract) {
		return nil, fmt.Errorf("verifying contract %q is not a valid address", cfg.VerifyingContract)
	}
	if cfg.Name == "" || cfg.Version == "" || cfg.ChainID <= 0 {
		return nil, fmt.Errorf("incomplete signing domain: %+v", cfg)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		typedDom: apitypes.TypedDataDomain{
			Name:              cfg.Name,
			Version:           cfg.Version,
			ChainId:           math.NewHexOrDecimal256(cfg.ChainID),
			VerifyingContract: common.HexToAddress(cfg.VerifyingContract).Hex(),
		},
	}, nil
}

func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: key is empty", domain.ErrSigningKeyUnavailable)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningKeyUnavailable, err)
	}
	return key, nil
}

// Address is the account whose signatures the claimer contract must accept.
func (s *Signer) Address() common.Address { return s.address }

// TypedData builds the canonical typed-data document for msg.
func (s *Signer) TypedData(msg domain.ClaimMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       claimTypes,
		PrimaryType: primaryType,
		Domain:      s.typedDom,
		Message: apitypes.TypedDataMessage{
			"receiver":    msg.Receiver,
			"codeHash":    msg.CodeHash,
			"claimBefore": new(big.Int).SetUint64(uint64(msg.ClaimBefore)),
		},
	}
}

// Hash returns the EIP-712 digest that gets signed.
func (s *Signer) Hash(msg domain.ClaimMessage) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(s.TypedData(msg))
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}

func (s *Signer) Sign(msg domain.ClaimMessage) (domain.Signature, error) {
	hash, err := s.Hash(msg)
	if err != nil {
		return domain.Signature{}, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("sign: %w", err)
	}
	return SplitSignature(sig)
}

// SplitSignature decomposes a 65 byte [R || S || recovery id] signature.
func SplitSignature(sig []byte) (domain.Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return domain.Signature{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	yParity := int(sig[crypto.RecoveryIDOffset])
	if yParity > 1 {
		return domain.Signature{}, fmt.Errorf("invalid recovery id %d", yParity)
	}
	return domain.Signature{
		R:       hexutil.Encode(sig[:32]),
		S:       hexutil.Encode(sig[32:64]),
		V:       store.NewBigInt(int64(27 + yParity)),
		YParity: yParity,
	}, nil
}

// CodeHash is keccak256 over the raw bytes of code, 0x-prefixed.
func CodeHash(code string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(code))
	return hexutil.Encode(h.Sum(nil))
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsAddress accepts 0x-prefixed 20 byte hex addresses. All-lowercase
// addresses pass as is; anything else must carry a valid EIP-55 checksum.
func IsAddress(s string) bool {
	if !addressPattern.MatchString(s) {
		return false
	}
	if strings.ToLower(s) == s {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}
