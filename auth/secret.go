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
	crand "crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

const secretLength = 32

// ObtainSecret loads the HMAC secret from the given file, expecting 32 bytes
// of hex. If the file does not exist a fresh random secret is generated and
// written there with mode 0600.
func ObtainSecret(fileName string) ([]byte, error) {
	if data, err := os.ReadFile(fileName); err == nil {
		secret := common.FromHex(strings.TrimSpace(string(data)))
		if len(secret) == secretLength {
			return secret, nil
		}
		log.Error("Invalid JWT secret", "path", fileName, "length", len(secret))
		return nil, errors.New("invalid JWT secret")
	}
	secret := make([]byte, secretLength)
	if _, err := crand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(fileName, []byte(hexutil.Encode(secret)), 0600); err != nil {
		return nil, err
	}
	log.Info("Generated JWT secret", "path", fileName)
	return secret, nil
}
