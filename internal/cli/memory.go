package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmblack/backlog-synthesizer/internal/memory"
)

var memoryClearYes bool

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or reset the similarity index",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counts of indexed items",
	RunE:  runMemoryStats,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all indexed items",
	RunE:  runMemoryClear,
}

func init() {
	memoryClearCmd.Flags().BoolVarP(&memoryClearYes, "yes", "y", false, "skip the confirmation prompt")

	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryClearCmd)
}

// indexEngine builds a memory engine without an embedder. Stats and clear
// never embed anything.
func indexEngine(ctx context.Context) (*memory.Engine, error) {
	if err := connectDB(ctx); err != nil {
		return nil, err
	}
	return memory.NewEngine(dbClient, nil, nil, logger), nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := indexEngine(ctx)
	if err != nil {
		return err
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Total items:  %d\n", stats.TotalItems)
	fmt.Printf("Requirements: %d\n", stats.Requirements)
	fmt.Printf("Stories:      %d\n", stats.Stories)
	if len(stats.Sources) > 0 {
		fmt.Printf("By source:\n")
		for source, count := range stats.Sources {
			fmt.Printf("  %-12s %d\n", source, count)
		}
	}
	return nil
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	if !memoryClearYes {
		fmt.Print("This deletes every indexed requirement and story. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	engine, err := indexEngine(ctx)
	if err != nil {
		return err
	}

	if err := engine.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Similarity index cleared.")
	return nil
}
