package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/basin/pkg/compact"
	"github.com/cuemby/basin/pkg/config"
	"github.com/cuemby/basin/pkg/group"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "basin",
	Short: "Basin - bucket storage core administration",
	Long: `Basin stores per-bucket operation logs for a data synchronization
engine: it ingests change-data-capture events into append-only bucket logs,
serves incremental reads at checkpoints, and maintains checksum and
compaction state.

This CLI administers the storage file directly: inspecting checkpoint
state, running compaction passes, and terminating sync-rule groups.`,
	Version: Version,
}

var cfg *config.Config

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Basin version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(terminateCmd)
}

func initConfig() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      logLevel,
		JSONOutput: logJSON,
	})

	path, _ := rootCmd.PersistentFlags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
}

func openStore() (*storage.BoltStore, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage in %s: %w", cfg.DataDir, err)
	}
	return store, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint state of every sync-rule group",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		groups, err := store.ListGroups()
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No sync-rule groups.")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("group %d:\n", g.ID)
			fmt.Printf("  status:              %s\n", g.Status)
			fmt.Printf("  last checkpoint:     %s\n", g.LastCheckpoint)
			fmt.Printf("  checkpoint lsn:      %s\n", orDash(g.LastCheckpointLSN))
			fmt.Printf("  no checkpoint before: %s\n", orDash(g.NoCheckpointBeforeLSN))
			fmt.Printf("  snapshot done:       %v\n", g.SnapshotDone)
			if g.LastFatalError != "" {
				fmt.Printf("  last fatal error:    %s\n", g.LastFatalError)
			}
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact [group-id]",
	Short: "Run one compaction pass",
	Long: `Run one compaction pass over a sync-rule group (or every active group
when no id is given). Superseded ops are rewritten to MOVE placeholders and
dead bucket prefixes collapse into CLEAR ops; client checksums are preserved.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		opts := compact.Options{
			MemoryLimitMB:   cfg.Compaction.MemoryLimitMB,
			MaxOpIDLag:      cfg.Compaction.MaxOpIDLag,
			ClearBatchLines: cfg.Compaction.ClearBatchLines,
			MoveBatchLines:  cfg.Compaction.MoveBatchLines,
		}

		groups, err := targetGroups(store, args)
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Printf("Compacting group %d...\n", g.ID)
			if err := compact.New(store, g.ID, opts).Run(); err != nil {
				return err
			}
		}
		fmt.Println("Compaction complete.")
		return nil
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate <group-id>",
	Short: "Terminate a sync-rule group and clear its storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetBool("keep-storage")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := parseGroupID(args[0])
		if err != nil {
			return err
		}
		handle, err := group.NewHandle(store, id, group.Options{})
		if err != nil {
			return err
		}
		defer handle.Close()

		clearStorage := !keep
		if err := handle.Terminate(context.Background(), group.TerminateOptions{ClearStorage: &clearStorage}); err != nil {
			return err
		}
		fmt.Printf("Group %d terminated.\n", id)
		return nil
	},
}

func init() {
	terminateCmd.Flags().Bool("keep-storage", false, "Keep stored ops and parameters instead of clearing them")
}

func targetGroups(store storage.Store, args []string) ([]*types.Group, error) {
	if len(args) == 1 {
		id, err := parseGroupID(args[0])
		if err != nil {
			return nil, err
		}
		g, err := store.GetGroup(id)
		if err != nil {
			return nil, err
		}
		return []*types.Group{g}, nil
	}
	groups, err := store.ListGroups()
	if err != nil {
		return nil, err
	}
	var active []*types.Group
	for _, g := range groups {
		if g.Status == types.GroupActive {
			active = append(active, g)
		}
	}
	return active, nil
}

func parseGroupID(s string) (types.GroupID, error) {
	var id uint32
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid group id %q", s)
	}
	return types.GroupID(id), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
