package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runspace/core/pkg/space"
	"github.com/runspace/core/pkg/store"
)

func newSpaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Create, inspect, and destroy spaces",
	}

	cmd.AddCommand(newSpaceCreateCmd())
	cmd.AddCommand(newSpaceListCmd())
	cmd.AddCommand(newSpaceGetCmd())
	cmd.AddCommand(newSpaceDestroyCmd())
	cmd.AddCommand(newSpacePauseCmd())
	cmd.AddCommand(newSpaceResumeCmd())
	cmd.AddCommand(newSpaceFilesCmd())

	return cmd
}

func newSpaceCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		preset      string
		ttlSeconds  int64
		envPairs    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new space",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}

			var ttl *int64
			if ttlSeconds > 0 {
				ttl = &ttlSeconds
			}

			record, err := manager.Create(cmd.Context(), space.CreateOptions{
				Name:        name,
				Description: description,
				Preset:      preset,
				Env:         env,
				TTLSeconds:  ttl,
			})
			if err != nil {
				return fmt.Errorf("creating space: %w", err)
			}

			fmt.Printf("space created\n  id:         %s\n  preset:     %s\n  workspace:  %s\n", record.ID, record.Policy, record.WorkspacePath)
			if record.ExpiresAt != nil {
				fmt.Printf("  expires at: %s\n", record.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable space name")
	cmd.Flags().StringVar(&description, "description", "", "Space description")
	cmd.Flags().StringVar(&preset, "preset", "standard", "Policy preset (restrictive|standard|permissive)")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl", 0, "Time-to-live in seconds (defaults to 12h)")
	cmd.Flags().StringSliceVar(&envPairs, "env", nil, "Container environment variable KEY=VALUE, repeatable")

	return cmd
}

func newSpaceListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := manager.List(cmd.Context(), store.SpaceFilter{Status: status})
			if err != nil {
				return fmt.Errorf("listing spaces: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("no spaces found")
				return nil
			}

			fmt.Printf("%-16s %-20s %-12s %-10s\n", "ID", "NAME", "STATUS", "POLICY")
			for _, sp := range records {
				fmt.Printf("%-16s %-20s %-12s %-10s\n", sp.ID, sp.Name, sp.Status, sp.Policy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (creating|ready|running|paused|destroyed)")
	return cmd
}

func newSpaceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <space-id>",
		Short: "Show a space's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			record, err := manager.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("getting space %q: %w", args[0], err)
			}

			fmt.Printf("id:          %s\n", record.ID)
			fmt.Printf("name:        %s\n", record.Name)
			fmt.Printf("status:      %s\n", record.Status)
			fmt.Printf("policy:      %s\n", record.Policy)
			fmt.Printf("workspace:   %s\n", record.WorkspacePath)
			fmt.Printf("created at:  %s\n", record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			if record.ExpiresAt != nil {
				fmt.Printf("expires at:  %s\n", record.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func newSpaceDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <space-id>",
		Short: "Tear down a space's sandbox and mark it destroyed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := manager.Destroy(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("destroying space %q: %w", args[0], err)
			}

			fmt.Printf("space %s destroyed\n", args[0])
			return nil
		},
	}
}

func newSpacePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <space-id>",
		Short: "Suspend new run submissions against a ready space without tearing it down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			record, err := manager.Pause(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("pausing space %q: %w", args[0], err)
			}

			fmt.Printf("space %s is now %s\n", record.ID, record.Status)
			return nil
		},
	}
}

func newSpaceResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <space-id>",
		Short: "Move a paused space back to ready so it accepts run submissions again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			record, err := manager.Resume(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resuming space %q: %w", args[0], err)
			}

			fmt.Printf("space %s is now %s\n", record.ID, record.Status)
			return nil
		},
	}
}

func newSpaceFilesCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "files <space-id> [dir]",
		Short: "List workspace files via the sandbox's listFiles primitive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, manager, _, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			dir := ""
			if len(args) == 2 {
				dir = args[1]
			}

			sb, _, _, err := manager.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolving space %q: %w", args[0], err)
			}

			entries := sb.ListFiles(dir, recursive)
			if len(entries) == 0 {
				fmt.Println("no files found")
				return nil
			}

			fmt.Printf("%-40s %10s %-5s %s\n", "PATH", "SIZE", "DIR", "MODIFIED")
			for _, e := range entries {
				fmt.Printf("%-40s %10d %-5t %s\n", e.Path, e.Size, e.IsDirectory, e.ModifiedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", false, "Recurse into subdirectories depth-first pre-order")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --env value %q, expected KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}
