package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-run the next workflow step of a stuck document",
		Long: `Re-derives where a document stands from its signers and re-runs the step
that should have followed: reissuing the active signer's token when it expired
or was never issued, completing a document whose signers are all done, or
queueing rendering for a completed document without a render job. Completed
signers are never rewound. A queued render job is picked up by the running
server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Resume(cmd.Context(), documentID)
			if err != nil {
				return err
			}
			a.logger.Info("document reconciled", "document_id", res.DocumentID, "outcome", string(res.Outcome), "active_order", res.ActiveOrder)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&documentID, "document", "", "ID of the document to reconcile")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}
