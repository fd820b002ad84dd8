package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snaplinkhq/snaplink/internal/service"
	"github.com/snaplinkhq/snaplink/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the Snaplink API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// cliAuthService builds an AuthService for key operations. The JWT secret is
// irrelevant here since the CLI never issues tokens.
func cliAuthService(st *store.Store) *service.AuthService {
	return service.NewAuthService(st, "cli", viper.GetInt("quota.daily_limit"), viper.GetInt("quota.key_rate_limit"))
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		userID int64
		name   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  snaplink key create --user 1 --name "CI pipeline"
  snaplink key create --user 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(userID, name)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user ID (required)")
	cmd.Flags().StringVar(&name, "name", "default", "Human-readable name for the key")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(userID int64, name string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	user, err := st.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %d not found", userID)
		}
		return fmt.Errorf("get user: %w", err)
	}

	key, plaintext, err := cliAuthService(st).IssueKey(ctx, user.ID, name)
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", plaintext)
	fmt.Printf("  User:  %s (id %d)\n", user.Username, user.ID)
	fmt.Printf("  Name:  %s\n", key.Name)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput bool
		userID     int64
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(userID, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Only show keys for this user ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(userID int64, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keys, err := st.ListAPIKeys(ctx)
	if userID != 0 {
		keys, err = st.ListAPIKeysByUser(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys. Use 'snaplink key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-20s %-6s %-8s %-8s\n", "ID", "PREFIX", "NAME", "USER", "ACTIVE", "USES")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-14s %-20s %-6d %-8s %-8d\n", k.ID, k.KeyPrefix, k.Name, k.UserID, active, k.UsageCount)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "revoke <keyId>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id: %s", args[0])
			}
			return runKeyRevoke(id, userID)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user ID (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRevoke(keyID, userID int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RevokeAPIKey(context.Background(), keyID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("key %d not found for user %d", keyID, userID)
		}
		return fmt.Errorf("revoke key: %w", err)
	}

	fmt.Printf("Key %d revoked.\n", keyID)
	return nil
}
