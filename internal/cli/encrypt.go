package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/TheGojiOG/sshbackup/internal/crypto"
	"github.com/TheGojiOG/sshbackup/internal/ssh"
	"github.com/spf13/cobra"
	gossh "golang.org/x/crypto/ssh"
)

func newEncryptSecretCmd(stdout io.Writer, stdin io.Reader) *cobra.Command {
	var (
		generateKey bool
		keyFile     string
	)
	cmd := &cobra.Command{
		Use:   "encrypt-secret",
		Short: "Encrypt a target secret read from stdin with $" + crypto.KeyEnv,
		Long: `Reads a password from stdin and prints it encrypted with the key in $` + crypto.KeyEnv + `,
ready to paste into the secret field of a target. With --key-file the private
key is printed in the ENC1 format accepted by key_path. With --generate-key a
new random key is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generateKey {
				key, err := crypto.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, key)
				return nil
			}

			manager, err := crypto.NewEncryptionManagerFromEnv()
			if err != nil {
				return err
			}

			if keyFile != "" {
				key, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("failed to read private key: %w", err)
				}
				if _, err := gossh.ParseRawPrivateKey(key); err != nil {
					return fmt.Errorf("unable to parse private key: %w", err)
				}
				wrapped, err := ssh.EncodeEncryptedKey(manager, key)
				if err != nil {
					return err
				}
				_, err = stdout.Write(wrapped)
				return err
			}

			data, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			secret := strings.TrimRight(string(data), "\r\n")
			if secret == "" {
				return fmt.Errorf("no secret on stdin")
			}

			encoded, err := manager.EncryptString(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, config.EncryptedSecret(encoded))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Encrypt this private key file instead of a secret from stdin")
	cmd.Flags().BoolVar(&generateKey, "generate-key", false, "Print a new random "+crypto.KeyEnv+" instead")
	return cmd
}
