package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kadaliao/claude-relay-service/pkg/account"
	"github.com/kadaliao/claude-relay-service/pkg/config"
	"github.com/kadaliao/claude-relay-service/pkg/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage pool accounts",
	Long:  `Inspect and manage the upstream accounts in the relay pool.`,
}

var accountsAddFlags struct {
	platform     string
	name         string
	apiKey       string
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
	priority     int
	maxConc      int
	proxyScheme  string
	proxyHost    string
	proxyPort    int
	proxyUser    string
	proxyPass    string
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account to the pool",
	Long: `Add an upstream account. OAuth accounts take an access/refresh token
pair obtained from the provider's authorization flow; console accounts
take a static API key.

Examples:
  # Console account with a static key
  claude-relay accounts add --platform claude-console --name backup --api-key sk-ant-...

  # OAuth account with a token pair and a SOCKS5 egress proxy
  claude-relay accounts add --platform claude --name primary \
    --access-token ... --refresh-token ... --expires-in 1h \
    --proxy-scheme socks5 --proxy-host 10.0.0.5 --proxy-port 1080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := account.Platform(accountsAddFlags.platform)
		if !platform.Valid() {
			return fmt.Errorf("invalid platform %q (must be one of: claude, claude-console, openai)", accountsAddFlags.platform)
		}

		cred := account.Credential{
			APIKey:       accountsAddFlags.apiKey,
			AccessToken:  accountsAddFlags.accessToken,
			RefreshToken: accountsAddFlags.refreshToken,
		}
		if cred.APIKey == "" && cred.AccessToken == "" {
			return fmt.Errorf("an --api-key or an --access-token is required")
		}
		if cred.AccessToken != "" && accountsAddFlags.expiresIn > 0 {
			cred.ExpiresAt = time.Now().Add(accountsAddFlags.expiresIn)
		}

		acc := account.Account{
			ID:             uuid.NewString(),
			Platform:       platform,
			Name:           accountsAddFlags.name,
			Credential:     cred,
			Status:         account.StatusNormal,
			Priority:       accountsAddFlags.priority,
			MaxConcurrency: accountsAddFlags.maxConc,
			Proxy: account.ProxyConfig{
				Scheme:   accountsAddFlags.proxyScheme,
				Host:     accountsAddFlags.proxyHost,
				Port:     accountsAddFlags.proxyPort,
				Username: accountsAddFlags.proxyUser,
				Password: accountsAddFlags.proxyPass,
			},
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.PutAccount(cmd.Context(), acc); err != nil {
			return err
		}
		fmt.Printf("account added: %s (%s, platform %s)\n", acc.ID, acc.Name, acc.Platform)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pool accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		accounts, err := st.ListAccounts(cmd.Context(), "")
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tSTATUS\tPRIORITY\tPROXY\tLAST USED")
		for _, acc := range accounts {
			lastUsed := "-"
			if !acc.LastUsedAt.IsZero() {
				lastUsed = acc.LastUsedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				acc.ID, acc.Name, acc.Platform, acc.Status,
				acc.Priority, acc.Proxy.Fingerprint(), lastUsed)
		}
		return w.Flush()
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an account from the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteAccount(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("account removed: %s\n", args[0])
		return nil
	},
}

// openStore opens the account store using the configured path and key.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cipher, err := store.NewCipher(cfg.Store.MasterKey)
	if err != nil {
		return nil, err
	}
	return store.Open(&store.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
		WALMode:      cfg.Store.WALMode,
		BusyTimeout:  cfg.Store.BusyTimeout,
	}, cipher)
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)

	accountsAddCmd.Flags().StringVar(&accountsAddFlags.platform, "platform", "claude", "account platform: claude, claude-console, openai")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.name, "name", "", "human-readable account name")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.apiKey, "api-key", "", "static API key (console accounts)")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.accessToken, "access-token", "", "OAuth access token")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.refreshToken, "refresh-token", "", "OAuth refresh token")
	accountsAddCmd.Flags().DurationVar(&accountsAddFlags.expiresIn, "expires-in", time.Hour, "access token lifetime from now")
	accountsAddCmd.Flags().IntVar(&accountsAddFlags.priority, "priority", 1, "selection weight (higher receives more traffic)")
	accountsAddCmd.Flags().IntVar(&accountsAddFlags.maxConc, "max-concurrency", 0, "max simultaneous relays (0 = unlimited)")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.proxyScheme, "proxy-scheme", "", "egress proxy scheme: http, https, socks5")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.proxyHost, "proxy-host", "", "egress proxy host")
	accountsAddCmd.Flags().IntVar(&accountsAddFlags.proxyPort, "proxy-port", 0, "egress proxy port")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.proxyUser, "proxy-user", "", "egress proxy username")
	accountsAddCmd.Flags().StringVar(&accountsAddFlags.proxyPass, "proxy-pass", "", "egress proxy password")
}
