package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/vebra-proxy/internal/app"
	"github.com/florianilch/vebra-proxy/internal/credentials"
)

func credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "manage the feed credentials",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "store the feed username and password in the configured storage",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "username",
						Usage: "feed username (prompted for if unset)",
					},
				},
				Action: credentialsSetAction,
			},
			{
				Name:   "check",
				Usage:  "perform a credential exchange and print the outcome",
				Action: credentialsCheckAction,
			},
		},
	}
}

func credentialsSetAction(ctx context.Context, cmd *cli.Command) error {
	flags := extractAndTransformFlags(cmd)
	delete(flags, "username")
	if username := cmd.String("username"); username != "" {
		flags["auth.username"] = username
	}

	// Validated after prompting: keyring storage needs the username to open.
	cfg, err := app.ReadConfig(cmd.String("config"), flags, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	in := bufio.NewReader(cmd.Root().Reader)
	out := cmd.Root().Writer

	prompted := cfg.Auth.Username == ""
	if prompted {
		if cfg.Auth.Username, err = prompt(out, in, "Username: "); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	username := cfg.Auth.Username
	password, err := promptPassword(out, in, cmd.Root().Reader)
	if err != nil {
		return err
	}

	creds := credentials.Credentials{Username: username, Password: password}
	if err := store.Write(ctx, creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Stored credentials for %s (%s storage)\n", creds.Username, cfg.Auth.Storage)
	if prompted && cfg.Auth.Storage == app.CredentialStorageTypeKeyring {
		_, _ = fmt.Fprintf(out, "Set auth.username = %q (or %sAUTH__USERNAME) so the proxy reads this entry\n",
			creds.Username, app.EnvPrefix)
	}
	return nil
}

func credentialsCheckAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	check, err := application.Client().Acquirer().TestCredentials(ctx)
	if err != nil {
		return fmt.Errorf("credential exchange failed: %w", err)
	}

	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(check); err != nil {
		return err
	}

	if !check.TokenReceived {
		return errors.New("credential check failed: no token received")
	}
	return nil
}

func prompt(out io.Writer, in *bufio.Reader, label string) (string, error) {
	_, _ = fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", strings.ToLower(strings.TrimSuffix(label, ": ")))
	}
	return value, nil
}

// promptPassword reads the password without echo when stdin is a terminal,
// and as a plain line otherwise (e.g. piped input).
func promptPassword(out io.Writer, in *bufio.Reader, raw io.Reader) (string, error) {
	f, ok := raw.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt(out, in, "Password: ")
	}

	_, _ = fmt.Fprint(out, "Password: ")
	password, err := term.ReadPassword(int(f.Fd()))
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(password), nil
}
