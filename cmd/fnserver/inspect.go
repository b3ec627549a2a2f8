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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/redpanda-data/wasm-functions/engine"
	"github.com/redpanda-data/wasm-functions/platform"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect <module.wasm>",
		Short:   "Validate a module and list the functions it would expose",
		Example: "inspect ./add.wasm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytecode, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := engine.New(ctx)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			exports, err := e.Inspect(ctx, bytecode)
			if err != nil {
				return err
			}
			cid, err := platform.ContentID(bytecode)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hash: %s\ncid:  %s\n\n", platform.Hash(bytecode), cid)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FUNCTION\tSIGNATURE")
			for _, ex := range exports {
				fmt.Fprintf(tw, "%s\t%s\n", ex.Name, ex.Signature)
			}
			return tw.Flush()
		},
	}
	return cmd
}
