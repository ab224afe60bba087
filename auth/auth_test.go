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

package auth

import (
	"crypto/ecdsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginMessage = "Login to Web3 Chat"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	return svc
}

// signLogin produces the personal-sign signature a wallet would emit for the
// given message.
func signLogin(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestLoginRoundTrip(t *testing.T) {
	svc := newTestService(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	token, err := svc.Login(addr.Hex(), loginMessage, signLogin(t, key, loginMessage))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, addr, resolved)
}

func TestLoginAddressMismatch(t *testing.T) {
	svc := newTestService(t)
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	otherAddr := crypto.PubkeyToAddress(other.PublicKey)

	_, err := svc.Login(otherAddr.Hex(), loginMessage, signLogin(t, key, loginMessage))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoginInvalidInputs(t *testing.T) {
	svc := newTestService(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	_, err := svc.Login("0xInvalidAddress", loginMessage, signLogin(t, key, loginMessage))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = svc.Login(addr.Hex(), loginMessage, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.Login(addr.Hex(), loginMessage, "not hex at all")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Signature over a different message recovers a different address.
	_, err = svc.Login(addr.Hex(), loginMessage, signLogin(t, key, "something else"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLoginReplay(t *testing.T) {
	svc := newTestService(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	sig := signLogin(t, key, loginMessage)

	_, err := svc.Login(addr.Hex(), loginMessage, sig)
	require.NoError(t, err)

	_, err = svc.Login(addr.Hex(), loginMessage, sig)
	assert.ErrorIs(t, err, ErrReplayedLogin)
}

func TestAuthenticateExpired(t *testing.T) {
	svc := newTestService(t)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	// Issue a token whose lifetime already ran out.
	svc.now = func() time.Time { return time.Now().Add(-DefaultTokenTTL - time.Minute) }
	token, err := svc.issueToken(addr)
	require.NoError(t, err)

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateForeignToken(t *testing.T) {
	svc := newTestService(t)
	otherSvc, err := NewService(Config{Secret: []byte("another-secret-another-secret-ab")})
	require.NoError(t, err)

	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	token, err := otherSvc.issueToken(addr)
	require.NoError(t, err)

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Authenticate("garbage.token.value")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestObtainSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt.hex")

	generated, err := ObtainSecret(path)
	require.NoError(t, err)
	assert.Len(t, generated, 32)

	loaded, err := ObtainSecret(path)
	require.NoError(t, err)
	assert.Equal(t, generated, loaded)
}
