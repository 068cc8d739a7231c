package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/replkit/mrepl-server-go/evalgo"
	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/ops"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the operations a default server exposes",
	Long: `Renders the operation directory of a server built with the standard
middleware set, without starting it. Useful to see what a client can
send before wiring one up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := middleware.NewRegistry()
		evaluator := evalgo.New()
		describe := &ops.Describe{Registry: reg, ServerName: "mrepl", Version: version}
		for _, mw := range []middleware.Middleware{
			&ops.Session{},
			&ops.Stdin{},
			&ops.Interrupt{},
			&ops.Eval{Evaluator: evaluator},
			&ops.LoadFile{Evaluator: evaluator},
			describe,
		} {
			if err := reg.Register(mw); err != nil {
				return err
			}
		}

		md := ops.Markdown(reg.Ops())

		plain, _ := cmd.Flags().GetBool("plain")
		if plain {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}

		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
		if err != nil {
			return err
		}
		out, err := r.Render(md)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	describeCmd.Flags().Bool("plain", false, "Print raw markdown without terminal styling")
	rootCmd.AddCommand(describeCmd)
}
