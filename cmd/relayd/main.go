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

// relayd is the w3chat relay node: authenticated clients hold websocket
// connections to it and exchange direct and channel messages.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/w3chat/relay/auth"
	"github.com/w3chat/relay/node"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "Interface the HTTP/websocket endpoint binds to",
		Value: node.DefaultHost,
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "Port of the HTTP/websocket endpoint",
		Value: node.DefaultPort,
	}
	httpCORSFlag = &cli.StringSliceFlag{
		Name:  "http.corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
	}
	wsOriginsFlag = &cli.StringSliceFlag{
		Name:  "ws.origins",
		Usage: "Origins from which to accept websocket requests ('*' accepts any)",
	}
	authSecretFlag = &cli.StringFlag{
		Name:  "authsecret",
		Usage: "Path to a hex-encoded 32 byte HMAC secret for login tokens (generated if absent)",
		Value: "jwt.hex",
	}
	tokenTTLFlag = &cli.DurationFlag{
		Name:  "token.ttl",
		Usage: "Lifetime of issued login tokens",
		Value: auth.DefaultTokenTTL,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:   "relayd",
		Usage:  "w3chat message relay node",
		Action: relayd,
		Flags: []cli.Flag{
			configFileFlag,
			httpAddrFlag,
			httpPortFlag,
			httpCORSFlag,
			wsOriginsFlag,
			authSecretFlag,
			tokenTTLFlag,
			verbosityFlag,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func relayd(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	secret, err := auth.ObtainSecret(cfg.Auth.SecretFile)
	if err != nil {
		return fmt.Errorf("failed to obtain auth secret: %w", err)
	}
	authSvc, err := auth.NewService(auth.Config{Secret: secret, TokenTTL: cfg.Auth.TokenTTL})
	if err != nil {
		return err
	}
	srv := node.New(cfg.Node, authSvc)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start relay node: %w", err)
	}
	defer srv.Stop()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")
	return nil
}

func setupLogging(ctx *cli.Context) {
	usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	output := io.Writer(os.Stderr)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	handler := log.StreamHandler(output, log.TerminalFormat(usecolor))
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), handler))
}
