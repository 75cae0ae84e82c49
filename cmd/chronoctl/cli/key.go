package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage requester API keys",
		Long:    "Create, list, and revoke the API key credentials requesters use to authenticate.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		requesterID string
		label       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a requester",
		Long:  "Generate a credential bound to a requester. The secret is shown once and cannot be retrieved again.",
		Example: `  chronoctl key create --requester 0195... --label "ingest worker"
  chronoctl key create --requester 0195...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(requesterID, label)
		},
	}

	cmd.Flags().StringVar(&requesterID, "requester", "", "Requester ID to bind the key to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.MarkFlagRequired("requester")

	return cmd
}

func runKeyCreate(requesterID, label string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	requester, err := st.GetRequester(ctx, requesterID)
	if err != nil {
		return fmt.Errorf("requester %q not found", requesterID)
	}

	auth := service.NewAPIKeyAuthenticator(st, slog.Default(), 0)
	keyID, secret, err := auth.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}

	key := &model.APIKey{
		KeyID:       keyID,
		SecretHash:  hash,
		RequesterID: requester.ID,
		Label:       label,
		Enabled:     true,
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Credential: %s.%s\n", keyID, secret)
	fmt.Printf("  Requester:  %s\n", requester.Name)
	if label != "" {
		fmt.Printf("  Label:      %s\n", label)
	}
	fmt.Println()
	fmt.Println("  Save this credential now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		requesterID string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a requester's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(requesterID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&requesterID, "requester", "", "Requester ID (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("requester")

	return cmd
}

func runKeyList(requesterID string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeysByRequester(context.Background(), requesterID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys for this requester. Use 'chronoctl key create' to create one.")
		return nil
	}

	fmt.Printf("%-22s %-24s %-8s %-20s\n", "KEY ID", "LABEL", "ACTIVE", "LAST USED")
	fmt.Printf("%-22s %-24s %-8s %-20s\n", "------", "-----", "------", "---------")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-22s %-24s %-8s %-20s\n", k.KeyID, truncate(k.Label, 24), yesNo(k.Enabled), lastUsed)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <keyId>",
		Short: "Revoke an API key by its key identifier",
		Long:  "Disable a credential, rejecting any further requests authenticated with it. The record is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(keyID string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetAPIKeyEnabled(context.Background(), keyID, false); err != nil {
		return fmt.Errorf("revoke api key %q: %w", keyID, err)
	}

	fmt.Printf("Revoked API key %q\n", keyID)
	return nil
}
