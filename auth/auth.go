// Copyright 2025 The w3chat Authors
// This file is part of the w3chat library.
//
// The w3chat library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The w3chat library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the w3chat library. If not, see <http://www.gnu.org/licenses/>.

// Package auth binds verified Ethereum addresses to time-limited bearer
// credentials. Login proves control of an address by recovering the signer of
// a personal-sign message; the issued credential is an HS256 JWT whose
// subject is the address.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
	lru "github.com/hashicorp/golang-lru"
)

const (
	// DefaultTokenTTL bounds the lifetime of an issued credential.
	DefaultTokenTTL = 30 * time.Minute

	// signatureCacheSize bounds the window of remembered login signatures.
	signatureCacheSize = 4096
)

var (
	ErrInvalidAddress   = errors.New("invalid Ethereum address")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrReplayedLogin    = errors.New("signature already used")
	ErrInvalidToken     = errors.New("invalid token")
)

// Config configures the auth service.
type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret []byte

	// TokenTTL is the credential lifetime. Zero means DefaultTokenTTL.
	TokenTTL time.Duration
}

// Service verifies login signatures and issues/validates credentials.
type Service struct {
	secret []byte
	ttl    time.Duration
	seen   *lru.Cache // keccak of recently accepted login signatures
	now    func() time.Time
}

// NewService creates an auth service with the given config.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	seen, err := lru.New(signatureCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{secret: cfg.Secret, ttl: ttl, seen: seen, now: time.Now}, nil
}

// RecoverAddress returns the address that produced the given personal-sign
// signature over message. The signature is the 65-byte [R || S || V] form
// with V in 27/28, hex encoded.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		// Tolerate signatures without the 0x prefix.
		sig, err = hexutil.Decode("0x" + signature)
		if err != nil {
			return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] != 27 && sig[crypto.RecoveryIDOffset] != 28 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}
	sig = append([]byte{}, sig...)
	sig[crypto.RecoveryIDOffset] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Login verifies that signature over message was produced by address and
// issues a credential for it. Each signature is accepted once within the
// cache window; replaying a captured login is rejected.
func (s *Service) Login(address, message, signature string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	claimed := common.HexToAddress(address)

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return "", err
	}
	if recovered != claimed {
		log.Warn("Login signature mismatch", "claimed", claimed, "recovered", recovered)
		return "", ErrInvalidSignature
	}
	key := crypto.Keccak256Hash([]byte(signature))
	if _, dup := s.seen.Get(key); dup {
		return "", ErrReplayedLogin
	}
	s.seen.Add(key, struct{}{})

	token, err := s.issueToken(claimed)
	if err != nil {
		return "", err
	}
	log.Info("Login verified", "address", claimed)
	return token, nil
}

// Authenticate resolves a credential to the address it was issued for, or
// fails. Expired, malformed or foreign-signed tokens are all ErrInvalidToken.
func (s *Service) Authenticate(token string) (common.Address, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return common.HexToAddress(claims.Subject), nil
}

func (s *Service) issueToken(address common.Address) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   address.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
