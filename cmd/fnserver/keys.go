// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redpanda-data/wasm-functions/identity"
	"github.com/redpanda-data/wasm-functions/logging"
)

func keygenCmd() *cobra.Command {
	var privPath, pubPath string

	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Generate an ES256 key pair for signing tokens",
		Example: "keygen --private-key ./jwt.key --public-key ./jwt.pub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := identity.GenerateKey()
			if err != nil {
				return err
			}
			if err := identity.WriteKeyPair(key, privPath, pubPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&privPath, "private-key", "jwt.key", "Output path of the PEM encoded private key.")
	cmd.Flags().StringVar(&pubPath, "public-key", "jwt.pub", "Output path of the PEM encoded public key.")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		privPath string
		userID   int64
		username string
		validity time.Duration
	)

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Sign a token for a user",
		Example: "token --private-key ./jwt.key --user-id 1 --username alice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 || username == "" {
				return fmt.Errorf("--user-id and --username are required")
			}
			key, err := identity.LoadPrivateKey(privPath)
			if err != nil {
				return err
			}
			token, err := identity.NewKeySigner(key, validity).Sign(cmd.Context(), userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&privPath, "private-key", "jwt.key", "Path of the PEM encoded private key.")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "Id of the user.")
	cmd.Flags().StringVar(&username, "username", "", "Name of the user.")
	cmd.Flags().DurationVar(&validity, "validity", identity.DefaultValidity, "How long the token is valid.")

	return cmd
}

func signerCmd() *cobra.Command {
	var (
		privPath string
		addr     string
		validity time.Duration
		level    string
	)

	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Run the token signing service",
		Long: "signer holds the private key and signs tokens for the API servers. " +
			"It must only be reachable from trusted callers.",
		Example: "signer --private-key ./jwt.key --listen 127.0.0.1:8081",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewZap(level, os.Stderr)
			if err != nil {
				return err
			}
			logging.SetGlobals(logger)
			key, err := identity.LoadPrivateKey(privPath)
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/sign", identity.Handler(identity.NewKeySigner(key, validity), logger))
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, srv, logger)
		},
	}

	cmd.Flags().StringVar(&privPath, "private-key", "jwt.key", "Path of the PEM encoded private key.")
	cmd.Flags().StringVar(&addr, "listen", "127.0.0.1:8081", "Address to listen on.")
	cmd.Flags().DurationVar(&validity, "validity", identity.DefaultValidity, "How long issued tokens are valid.")
	cmd.Flags().StringVar(&level, "log-level", logging.LevelInfo, "Log level.")

	return cmd
}
