package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

// newRulesCmd creates the `rules` command, which prints the effective rule
// set so custom rule files can be bootstrapped from the built-in one.
func newRulesCmd() *cobra.Command {
	var rulesFile string

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Prints the effective rule set as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, _, err := loadRuleSet(rulesFile)
			if err != nil {
				return err
			}

			encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(rules, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode rule set: %w", err)
			}

			cmd.Println(string(encoded))
			return nil
		},
	}

	rulesCmd.Flags().StringVar(&rulesFile, "rules", "", "Path to a custom rule set file to print instead of the built-in rules.")

	return rulesCmd
}
