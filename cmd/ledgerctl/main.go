package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/auditledger/internal/identity"
	"github.com/jmerrifield20/auditledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL    string
	bearerToken  string
	cfgFile      string
	outputFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Audit ledger CLI",
	Long: `ledgerctl is the command-line interface for an auditledger server.

It records audit entries, reads them back by sequence number, actor or
target, and runs integrity checks over the hash chain.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ledgerctl")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "role token sent as a bearer credential")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(actorCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	return client.New(serverURL, opts...)
}

// ── head ─────────────────────────────────────────────────────────────────────

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "Show the newest sequence number and its hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		tail, err := c.Head(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), tail)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sequence: %d\nHash:     %s\n", tail.Sequence, tail.Hash)
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFrom int64
	verifyTo   int64
)

// errChainInvalid makes verify exit non-zero when violations are found.
var errChainInvalid = errors.New("integrity check failed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the hash chain for tampering",
	Long: `verify asks the server to recompute every entry hash in [from, to] and
check each link to its predecessor. Omit both bounds to check the whole
ledger. The command exits non-zero when any violation is reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		report, err := c.Verify(cmd.Context(), verifyFrom, verifyTo)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else if err := printReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Valid {
			return errChainInvalid
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyFrom, "from", 0, "first sequence number to check (default 1)")
	verifyCmd.Flags().Int64Var(&verifyTo, "to", 0, "last sequence number to check (default: newest)")
}

// ── get ──────────────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <sequence>",
	Short: "Show one entry by sequence number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || seq < 1 {
			return fmt.Errorf("invalid sequence number %q", args[0])
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		entry, err := c.Get(cmd.Context(), seq)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), entry)
		}
		return printEntry(cmd.OutOrStdout(), entry)
	},
}

// ── actor / target ───────────────────────────────────────────────────────────

var (
	listLimit    int
	listSkip     int
	listAction   string
	listSeverity string
	listSince    string
	listUntil    string
)

var actorCmd = &cobra.Command{
	Use:   "actor <actor-id>",
	Short: "List entries recorded for an actor, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, func(ctx context.Context, c *client.Client, f client.Filter) ([]client.Entry, error) {
			return c.ByActor(ctx, args[0], f)
		})
	},
}

var targetCmd = &cobra.Command{
	Use:   "target <target-id>",
	Short: "List entries recorded against a target, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd, func(ctx context.Context, c *client.Client, f client.Filter) ([]client.Entry, error) {
			return c.ByTarget(ctx, args[0], f)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{actorCmd, targetCmd} {
		cmd.Flags().IntVar(&listLimit, "limit", 50, "maximum entries to return")
		cmd.Flags().IntVar(&listSkip, "skip", 0, "entries to skip")
		cmd.Flags().StringVar(&listAction, "action", "", "only entries with this action")
		cmd.Flags().StringVar(&listSeverity, "severity", "", "only entries with this severity")
		cmd.Flags().StringVar(&listSince, "since", "", "only entries at or after this RFC3339 time")
		cmd.Flags().StringVar(&listUntil, "until", "", "only entries at or before this RFC3339 time")
	}
}

type listFunc func(ctx context.Context, c *client.Client, f client.Filter) ([]client.Entry, error)

func runList(cmd *cobra.Command, list listFunc) error {
	f, err := buildFilter()
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	entries, err := list(cmd.Context(), c, f)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

func buildFilter() (client.Filter, error) {
	f := client.Filter{
		Limit:    listLimit,
		Skip:     listSkip,
		Action:   listAction,
		Severity: listSeverity,
	}
	var err error
	if f.From, err = parseTimeFlag("since", listSince); err != nil {
		return f, err
	}
	if f.To, err = parseTimeFlag("until", listUntil); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

// ── append ───────────────────────────────────────────────────────────────────

var appendFile string

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Record an entry from a JSON document",
	Long: `append reads one append request as JSON and records it:

  echo '{"action":"user.role.change","actor":{"id":"u1","email":"a@example.com","role":"admin","ip":"10.0.0.1"},"request_id":"req-1"}' \
    | ledgerctl append --token $PRODUCER_TOKEN`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if appendFile != "" && appendFile != "-" {
			f, err := os.Open(appendFile)
			if err != nil {
				return fmt.Errorf("open %s: %w", appendFile, err)
			}
			defer f.Close()
			in = f
		}
		req, err := readAppendRequest(in)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		entry, err := c.Append(cmd.Context(), req)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), entry)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded entry %d\n  Hash: %s\n", entry.SequenceNumber, entry.CurrentHash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVarP(&appendFile, "file", "f", "-", "JSON file to read, - for stdin")
}

func readAppendRequest(r io.Reader) (client.AppendRequest, error) {
	var req client.AppendRequest
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode append request: %w", err)
	}
	return req, nil
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a role token signed with the server's secret",
	Long: `token signs a role token locally with the same HS256 secret ledgerd is
configured with (auth.jwt_secret). Roles are "producer" and "auditor".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		for _, r := range tokenRoles {
			if !identity.ValidRole(r) {
				return fmt.Errorf("unknown role %q", r)
			}
		}
		issuer, err := identity.NewTokenIssuer([]byte(secret), tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(tokenSubject, tokenRoles)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret (env LEDGERCTL_JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "auditledger", "token issuer, must match ledgerd auth.issuer")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (service or user name)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to grant, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	_ = tokenCmd.MarkFlagRequired("subject")
	_ = tokenCmd.MarkFlagRequired("role")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
	},
}
