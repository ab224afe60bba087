// Copyright 2025 The w3chat Authors
// This file is part of w3chat.
//
// w3chat is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// w3chat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with w3chat. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/w3chat/relay/auth"
	"github.com/w3chat/relay/node"
)

type authConfig struct {
	SecretFile string
	TokenTTL   time.Duration
}

type relaydConfig struct {
	Node node.Config
	Auth authConfig
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		if unicode.IsUpper(rune(field[0])) {
			return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
		}
		return nil
	},
}

func loadConfigFile(file string, cfg *relaydConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadConfig assembles the node config from defaults, the optional TOML file
// and command line flags, in that order of precedence.
func loadConfig(ctx *cli.Context) (relaydConfig, error) {
	cfg := relaydConfig{
		Node: node.DefaultConfig,
		Auth: authConfig{
			SecretFile: authSecretFlag.Value,
			TokenTTL:   auth.DefaultTokenTTL,
		},
	}
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		cfg.Node.Host = ctx.String(httpAddrFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.Node.Port = ctx.Int(httpPortFlag.Name)
	}
	if ctx.IsSet(httpCORSFlag.Name) {
		cfg.Node.CORSOrigins = ctx.StringSlice(httpCORSFlag.Name)
	}
	if ctx.IsSet(wsOriginsFlag.Name) {
		cfg.Node.WSOrigins = ctx.StringSlice(wsOriginsFlag.Name)
	}
	if ctx.IsSet(authSecretFlag.Name) {
		cfg.Auth.SecretFile = ctx.String(authSecretFlag.Name)
	}
	if ctx.IsSet(tokenTTLFlag.Name) {
		cfg.Auth.TokenTTL = ctx.Duration(tokenTTLFlag.Name)
	}
	return cfg, nil
}
