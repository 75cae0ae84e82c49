package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage access policies",
		Long:  "List, export, and import the policies the key-holder evaluates against access requests.",
	}

	cmd.AddCommand(newPolicyListCmd())
	cmd.AddCommand(newPolicyExportCmd())
	cmd.AddCommand(newPolicyImportCmd())

	return cmd
}

// policyDoc is the portable YAML shape for export and import. Built-in
// policies are exported for reference but never overwritten on import.
type policyDoc struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Priority    int    `yaml:"priority"`
	Enabled     bool   `yaml:"enabled"`
	BuiltIn     bool   `yaml:"built_in,omitempty"`
	Rule        string `yaml:"rule,omitempty"`
}

// ---------- policy list ----------

func newPolicyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyList()
		},
	}

	return cmd
}

func runPolicyList() error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	policies, err := st.ListPolicies(context.Background())
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}

	fmt.Printf("%-24s %-10s %-8s %-8s %-32s\n", "NAME", "PRIORITY", "ENABLED", "BUILTIN", "DESCRIPTION")
	fmt.Printf("%-24s %-10s %-8s %-8s %-32s\n", "----", "--------", "-------", "-------", "-----------")
	for _, p := range policies {
		fmt.Printf("%-24s %-10d %-8s %-8s %-32s\n",
			truncate(p.Name, 24), p.Priority, yesNo(p.Enabled), yesNo(p.BuiltIn), truncate(p.Description, 32))
	}

	return nil
}

// ---------- policy export ----------

func newPolicyExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all policies as YAML",
		Example: `  chronoctl policy export
  chronoctl policy export -o policies.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyExport(output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func runPolicyExport(output string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	policies, err := st.ListPolicies(context.Background())
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}

	doc := policyDoc{Policies: make([]policyEntry, len(policies))}
	for i, p := range policies {
		doc.Policies[i] = policyEntry{
			Name:        p.Name,
			Description: p.Description,
			Priority:    p.Priority,
			Enabled:     p.Enabled,
			BuiltIn:     p.BuiltIn,
			Rule:        p.Rule,
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal policies: %w", err)
	}

	if output == "" {
		os.Stdout.Write(data)
		return nil
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Printf("Exported %d policies to %s\n", len(doc.Policies), output)
	return nil
}

// ---------- policy import ----------

func newPolicyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import policies from a YAML file",
		Long:  "Create or update policies by name from an exported YAML document. Built-in policies are never overwritten.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyImport(args[0])
		},
	}

	return cmd
}

func runPolicyImport(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var doc policyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	var created, updated, skipped int

	for _, entry := range doc.Policies {
		if entry.Name == "" {
			return fmt.Errorf("policy entry without a name in %s", path)
		}

		existing, err := st.GetPolicyByName(ctx, entry.Name)
		if err == nil && existing != nil {
			if existing.BuiltIn {
				skipped++
				continue
			}
			existing.Description = entry.Description
			existing.Priority = entry.Priority
			existing.Enabled = entry.Enabled
			existing.Rule = entry.Rule
			if err := st.UpdatePolicy(ctx, existing); err != nil {
				return fmt.Errorf("update policy %q: %w", entry.Name, err)
			}
			updated++
			continue
		}

		policy := &model.Policy{
			Name:        entry.Name,
			Description: entry.Description,
			Priority:    entry.Priority,
			Enabled:     entry.Enabled,
			Rule:        entry.Rule,
		}
		if err := st.CreatePolicy(ctx, policy); err != nil {
			return fmt.Errorf("create policy %q: %w", entry.Name, err)
		}
		created++
	}

	fmt.Printf("Imported policies: %d created, %d updated, %d built-in skipped\n", created, updated, skipped)
	return nil
}
