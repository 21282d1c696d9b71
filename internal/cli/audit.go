package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	auditTokensAgent string
	auditListLimit   int
	auditListOffset  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the execution audit trail",
}

var auditShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show the full audit trail for one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

var auditTokensCmd = &cobra.Command{
	Use:   "tokens <execution-id>",
	Short: "Show token usage for one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTokens,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	RunE:  runAuditList,
}

func init() {
	auditTokensCmd.Flags().StringVar(&auditTokensAgent, "agent", "", "filter by agent type")
	auditListCmd.Flags().IntVarP(&auditListLimit, "limit", "n", 20, "max executions to show")
	auditListCmd.Flags().IntVar(&auditListOffset, "offset", 0, "skip the first N executions")

	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditTokensCmd)
	auditCmd.AddCommand(auditListCmd)
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	if err := openAudit(); err != nil {
		return err
	}

	trail, err := auditLog.GetExecutionAudit(context.Background(), args[0])
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return fmt.Errorf("encode audit trail: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func runAuditTokens(cmd *cobra.Command, args []string) error {
	if err := openAudit(); err != nil {
		return err
	}

	usage, err := auditLog.GetTokenUsage(context.Background(), args[0], auditTokensAgent)
	if err != nil {
		return err
	}

	if auditTokensAgent != "" {
		fmt.Printf("Agent:       %s\n", auditTokensAgent)
	}
	fmt.Printf("Invocations: %d\n", usage.Invocations)
	fmt.Printf("Input:       %d tokens\n", usage.InputTokens)
	fmt.Printf("Output:      %d tokens\n", usage.OutputTokens)
	fmt.Printf("Total:       %d tokens\n", usage.TotalTokens)

	if auditTokensAgent == "" && len(usage.ByAgent) > 1 {
		agents := make([]string, 0, len(usage.ByAgent))
		for agent := range usage.ByAgent {
			agents = append(agents, agent)
		}
		sort.Strings(agents)
		fmt.Println("\nBy agent:")
		for _, agent := range agents {
			row := usage.ByAgent[agent]
			fmt.Printf("  %-22s %d invocations, %d in / %d out / %d total\n",
				agent, row.Invocations, row.InputTokens, row.OutputTokens, row.TotalTokens)
		}
	}
	return nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	if err := openAudit(); err != nil {
		return err
	}

	executions, err := auditLog.ListRecentExecutions(context.Background(), auditListLimit, auditListOffset)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}

	for _, exec := range executions {
		fmt.Printf("%s  %-22s  %s\n", exec.StartedAt, exec.Status, exec.ExecutionID)
		fmt.Printf("    input=%s reqs=%d novel=%d stories=%d issues=%d errors=%d\n",
			exec.InputFile, exec.TotalRequirements, exec.NovelRequirements,
			exec.StoriesGenerated, exec.IssuesCreated, exec.ErrorCount)
	}
	return nil
}
