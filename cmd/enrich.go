package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seclens/vuln-triage/internal/advisory"
)

var (
	flagOrg    string
	flagMember string
	flagSeen   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <finding-uuid>",
	Short: "Enrich a single finding and print the expanded result",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrich,
}

func init() {
	enrichCmd.Flags().StringVar(&flagOrg, "org", "", "Organization UUID (required)")
	enrichCmd.Flags().StringVar(&flagMember, "member", "", "Member email for the usage log")
	enrichCmd.Flags().BoolVar(&flagSeen, "seen", false, "Mark the resulting triage row as reviewed")
	enrichCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	id := advisory.Identity{OrgID: flagOrg, MemberEmail: flagMember}
	expanded, err := a.enricher.Enrich(cmd.Context(), id, args[0], flagSeen)
	if err != nil {
		return fmt.Errorf("enrich %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(expanded)
}
