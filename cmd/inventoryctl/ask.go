package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"inventory-agent/internal/domain"
	"inventory-agent/internal/usecase"
)

// printMailer writes replies to a terminal instead of sending them.
type printMailer struct {
	w io.Writer
}

func (m printMailer) Send(_ context.Context, r domain.Reply) error {
	_, err := fmt.Fprintf(m.w, "To: %s\nSubject: %s\n\n%s\n", r.To, r.Subject, r.Body)
	return err
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var from, subject, body string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one request and print the reply",
		Example: `  inventoryctl ask --subject "Consulta inventario: ABC, saldo, 1 día"
  inventoryctl ask --from ana@example.com --subject "Consulta inventario: XYZ, historial, 7 días"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			store, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeWith(&err, store, "inventory")

			svc, err := opts.newProcessService(store, printMailer{w: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			_, err = svc.Process(cmd.Context(), usecase.ProcessInput{
				MessageID: "cli",
				Sender:    from,
				Subject:   subject,
				Body:      body,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "local@localhost", "Sender address to reply to")
	cmd.Flags().StringVar(&subject, "subject", "", `Request subject, e.g. "Consulta inventario: ABC, saldo, 1 día"`)
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
