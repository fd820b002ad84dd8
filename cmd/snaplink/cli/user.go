package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create, list, and deactivate Snaplink user accounts from the command line.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeactivateCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username   string
		email      string
		password   string
		admin      bool
		dailyLimit int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  snaplink user create --username alice --email alice@example.com
  snaplink user create --username ops --email ops@example.com --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, email, password, admin, dailyLimit)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	cmd.Flags().IntVar(&dailyLimit, "daily-limit", 100, "Daily request quota")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(username, email, password string, admin bool, dailyLimit int) error {
	if password == "" {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	role := model.RoleUser
	if admin {
		role = model.RoleAdmin
	}

	user := &model.User{
		Username:     strings.TrimSpace(username),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		DailyLimit:   dailyLimit,
		QuotaDate:    store.Today(),
	}

	if err := st.CreateUser(context.Background(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("username or email already taken")
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("User created: %s <%s> (id %d, role %s)\n", user.Username, user.Email, user.ID, user.Role)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users. Use 'snaplink user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-16s %-28s %-8s %-8s %-10s\n", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE", "LIMIT/DAY")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-16s %-28s %-8s %-8s %-10d\n", u.ID, u.Username, u.Email, u.Role, active, u.DailyLimit)
	}
	return nil
}

// ---------- user deactivate ----------

func newUserDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <userId>",
		Short: "Deactivate a user account",
		Long:  "Disable an account. Its API keys stop validating on the next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id: %s", args[0])
			}
			return runUserDeactivate(id)
		},
	}
	return cmd
}

func runUserDeactivate(id int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.DeactivateUser(context.Background(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %d not found", id)
		}
		return fmt.Errorf("deactivate user: %w", err)
	}

	fmt.Printf("User %d deactivated.\n", id)
	return nil
}
