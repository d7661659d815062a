package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/secrets"
)

// newSecretCmd creates the `loopclaw secret` command group for managing
// secrets referenced from API trigger headers (keyring:NAME, vault:NAME).
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets used by API triggers",
		Long: `Store secrets in the OS keyring or the encrypted vault and reference
them from loop configs without writing plaintext to disk:

  "headers": {"Authorization": "keyring:GITHUB_TOKEN"}
  "headers": {"Authorization": "vault:GITHUB_TOKEN"}`,
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretDeleteCmd(),
		newSecretVaultCmd(),
	)
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !secrets.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available, use `loopclaw secret vault` instead")
			}
			value, err := secrets.ReadPassword(fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("empty value")
			}
			if err := secrets.StoreKeyring(args[0], value); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Printf("Stored %s in the OS keyring. Reference it as keyring:%s\n", args[0], args[0])
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := secrets.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Printf("Deleted %s from the OS keyring\n", args[0])
			return nil
		},
	}
}

func newSecretVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted vault (" + secrets.VaultFile + ")",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create a new vault",
			RunE: func(_ *cobra.Command, _ []string) error {
				v := secrets.NewVault(secrets.VaultFile)
				if v.Exists() {
					return fmt.Errorf("vault already exists at %s", secrets.VaultFile)
				}
				pass, err := secrets.ReadPassword("New vault password: ")
				if err != nil {
					return err
				}
				confirm, err := secrets.ReadPassword("Confirm password: ")
				if err != nil {
					return err
				}
				if pass != confirm {
					return fmt.Errorf("passwords do not match")
				}
				if err := v.Create(pass); err != nil {
					return err
				}
				fmt.Printf("Vault created at %s\n", secrets.VaultFile)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <name>",
			Short: "Store a secret in the vault",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := unlockVault()
				if err != nil {
					return err
				}
				value, err := secrets.ReadPassword(fmt.Sprintf("Value for %s: ", args[0]))
				if err != nil {
					return err
				}
				if err := v.Set(args[0], value); err != nil {
					return err
				}
				fmt.Printf("Stored %s in the vault. Reference it as vault:%s\n", args[0], args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Remove a secret from the vault",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				v, err := unlockVault()
				if err != nil {
					return err
				}
				if err := v.Delete(args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s from the vault\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List secret names stored in the vault",
			RunE: func(_ *cobra.Command, _ []string) error {
				v, err := unlockVault()
				if err != nil {
					return err
				}
				keys, err := v.Keys()
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			},
		},
	)
	return cmd
}

// unlockVault opens and unlocks the default vault, prompting for the
// password.
func unlockVault() (*secrets.Vault, error) {
	v := secrets.NewVault(secrets.VaultFile)
	if !v.Exists() {
		return nil, fmt.Errorf("no vault at %s, create one with `loopclaw secret vault init`", secrets.VaultFile)
	}
	pass, err := secrets.ReadPassword("Vault password: ")
	if err != nil {
		return nil, err
	}
	if err := v.Unlock(pass); err != nil {
		return nil, err
	}
	return v, nil
}
