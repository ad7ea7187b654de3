package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"actcore/internal/config"
	"actcore/internal/secrets"

	"github.com/spf13/cobra"
)

// =============================================================================
// SECRETS COMMANDS
// =============================================================================

var (
	secretDescription string
	secretSensitivity string
	secretListLevel   string
	secretLogsLimit   int
	secretDecrypt     bool
	rotateNewKey      string
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted secrets store",
	Long: `Manage the encrypted secrets store.

The master key is read from ACTCORE_SECRETS_KEY (64 hex characters).

Subcommands:
  keygen  - Generate a new master key
  store   - Encrypt and store a value (read from stdin when omitted)
  get     - Show a secret's metadata, optionally decrypted
  list    - List stored secrets
  logs    - Show the access log
  delete  - Delete a secret
  rotate  - Re-encrypt every secret under a new master key`,
}

var secretsKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new master key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secrets.GenerateMasterKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var secretsStoreCmd = &cobra.Command{
	Use:   "store [value]",
	Short: "Encrypt and store a value",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSecretsStore,
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <secret-id>",
	Short: "Show a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsGet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secrets",
	Args:  cobra.NoArgs,
	RunE:  runSecretsList,
}

var secretsLogsCmd = &cobra.Command{
	Use:   "logs [secret-id]",
	Short: "Show the access log",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSecretsLogs,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete <secret-id>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretsDelete,
}

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt every secret under a new master key",
	Long: `Re-encrypt every secret under a new master key.

Pass --new-key or let a fresh key be generated. Nothing is written unless
every secret decrypts under the current key. Update ACTCORE_SECRETS_KEY
afterwards.`,
	Args: cobra.NoArgs,
	RunE: runSecretsRotate,
}

func init() {
	secretsStoreCmd.Flags().StringVarP(&secretDescription, "description", "d", "", "Human-readable description (required)")
	secretsStoreCmd.Flags().StringVarP(&secretSensitivity, "sensitivity", "s", "high", "low, medium, high or critical")
	_ = secretsStoreCmd.MarkFlagRequired("description")

	secretsGetCmd.Flags().BoolVar(&secretDecrypt, "decrypt", false, "Print the plaintext value")
	secretsListCmd.Flags().StringVar(&secretListLevel, "sensitivity", "", "Only list secrets of this sensitivity")
	secretsLogsCmd.Flags().IntVarP(&secretLogsLimit, "limit", "n", 50, "Maximum entries to show")
	secretsRotateCmd.Flags().StringVar(&rotateNewKey, "new-key", "", "New master key (hex); generated when empty")

	secretsCmd.AddCommand(secretsKeygenCmd, secretsStoreCmd, secretsGetCmd, secretsListCmd,
		secretsLogsCmd, secretsDeleteCmd, secretsRotateCmd)
}

func withSecrets(fn func(ctx context.Context, svc *secrets.Service) error) error {
	svc, err := openSecrets(cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Store().Close()
	return fn(context.Background(), svc)
}

func runSecretsStore(cmd *cobra.Command, args []string) error {
	sens, err := secrets.ParseSensitivity(secretSensitivity)
	if err != nil {
		return err
	}

	value := ""
	if len(args) == 1 {
		value = args[0]
	} else {
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read value from stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return fmt.Errorf("secret value is empty")
	}

	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		rec, err := svc.Store().StoreSecret(ctx, secrets.DetectedSecret{
			OriginalValue: value,
			Pattern:       "manual",
			Description:   secretDescription,
			Sensitivity:   sens,
		}, "cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\nReference: %s\n", rec.ID, secrets.Reference(rec.ID, rec.Description))
		return nil
	})
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		rec, err := svc.Store().Retrieve(ctx, args[0], "cli", "manual inspection", secretDecrypt)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:          %s\n", rec.ID)
		fmt.Fprintf(out, "Description: %s\n", rec.Description)
		fmt.Fprintf(out, "Sensitivity: %s\n", rec.Sensitivity)
		fmt.Fprintf(out, "Pattern:     %s\n", rec.DetectedPattern)
		fmt.Fprintf(out, "Created:     %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Accesses:    %d\n", rec.AccessCount)
		if secretDecrypt {
			plain, ok := svc.Store().DecryptSecretValue(rec)
			if !ok {
				return fmt.Errorf("secret %s could not be decrypted with the current key", rec.ID)
			}
			fmt.Fprintf(out, "Value:       %s\n", plain)
		}
		return nil
	})
}

func runSecretsList(cmd *cobra.Command, args []string) error {
	var f secrets.ListFilter
	if secretListLevel != "" {
		sens, err := secrets.ParseSensitivity(secretListLevel)
		if err != nil {
			return err
		}
		f.Sensitivity = sens
	}

	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		infos, err := svc.Store().List(ctx, f)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No secrets stored.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSENSITIVITY\tPATTERN\tACCESSES\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", info.ID, info.Sensitivity, info.DetectedPattern, info.AccessCount, info.Description)
		}
		return tw.Flush()
	})
}

func runSecretsLogs(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		entries, err := svc.Store().AccessLogs(ctx, id, secretLogsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tSECRET\tACTION\tACCESSOR\tOK\tDETAIL")
		for _, e := range entries {
			detail := e.Purpose
			if !e.Success {
				detail = e.FailureReason
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.SecretID, e.Action, e.Accessor, e.Success, detail)
		}
		return tw.Flush()
	})
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		existed, err := svc.Store().Delete(ctx, args[0], "cli")
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("secret %s not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	})
}

func runSecretsRotate(cmd *cobra.Command, args []string) error {
	newKey := rotateNewKey
	if newKey == "" {
		generated, err := secrets.GenerateMasterKey()
		if err != nil {
			return err
		}
		newKey = generated
	}
	check := config.SecretsConfig{MasterKey: newKey, MaxAccessesPerMinute: 1, MaxAccessesPerHour: 1}
	if err := check.Validate(); err != nil {
		return err
	}
	enc, err := secrets.NewEncryptor(newKey)
	if err != nil {
		return err
	}

	return withSecrets(func(ctx context.Context, svc *secrets.Service) error {
		if err := svc.Store().ReencryptAll(ctx, enc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rotated secrets to key %s\n", enc.KeyRef())
		if rotateNewKey == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "New master key (store it now): %s\n", newKey)
		}
		fmt.Fprintln(os.Stderr, "Update ACTCORE_SECRETS_KEY before the next run.")
		return nil
	})
}
