package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/emagent/internal/sealbox"
)

// DecryptOptions holds flags for the decrypt command.
type DecryptOptions struct {
	*RootOptions
	KeyFile string
}

// NewDecryptCommand creates the decrypt command.
func NewDecryptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecryptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decrypt <token>",
		Short: "Open a sealed clipboard token",
		Long: `Open an encrypted_content token with the installation key.

Example:
  emagent decrypt YWdlLWVuY3J5cHRpb24ub3JnL3Yx...
  emagent decrypt --key-file ./key.txt "$TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecrypt(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.KeyFile, "key-file", "", "identity file (default paths.key_file)")

	return cmd
}

func runDecrypt(opts *DecryptOptions, cmd *cobra.Command, token string) error {
	f := opts.formatter(cmd)

	keyFile := opts.KeyFile
	if keyFile == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = f.Error(CodeInvalidSettings, err.Error(), nil)
			return err
		}
		keyFile = cfg.Paths.KeyFile
	}

	box, err := sealbox.Load(keyFile)
	if err != nil {
		_ = f.Error(CodeDecrypt, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load key", err)
	}
	plain, err := box.Decrypt(token)
	if err != nil {
		_ = f.Error(CodeDecrypt, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to decrypt token", err)
	}

	if opts.Format == "json" {
		return f.Success(map[string]string{"content": string(plain)})
	}
	return f.Success(string(plain))
}
