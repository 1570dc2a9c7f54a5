package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/numeric"
	"github.com/wantee/connlm-go/pkg/numeric/blasload"
)

func newBLASInfoCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blas-info",
		Short: "Report the numeric backend available on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, gf, nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "AVX2+FMA3: %v\n", numeric.AVX2Available())

			if !blasload.Available() {
				fmt.Fprintln(out, "native BLAS: not found (falling back to gonum)")
				return nil
			}
			fmt.Fprintln(out, "native BLAS: found")
			if err := blasload.SelfTest(); err != nil {
				return fmt.Errorf("native BLAS self-test failed: %w", err)
			}
			fmt.Fprintln(out, "native BLAS self-test: passed")
			return nil
		},
	}
	return cmd
}
