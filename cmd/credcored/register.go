package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/credcore/credcore"
)

// NewRegisterCmd creates the register subcommand. On an empty store the
// account becomes the bootstrap admin.
func NewRegisterCmd(g *globalFlags) *cobra.Command {
	var req credcore.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (the first account is the admin)",
		Long: `Create an account directly in the store. The password is read from
the terminal without echo, or from the first line of stdin when stdin is not a
terminal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			if req.Email == "" {
				return oops.Code("CONFIG_INVALID").Errorf("--email is required")
			}
			req.Password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			b, err := openBackend(cmd.Context(), cfg.Store, cfg.Engine.Tokens.RefreshTTL, logger)
			if err != nil {
				return err
			}
			defer b.close()

			notifier, err := newNotifier(cfg, logger)
			if err != nil {
				return err
			}
			engine, err := newEngine(cfg, b.repo, notifier, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Register(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("register: %s: %w", credcore.PublicMessage(err), err)
			}
			cmd.Printf("Created %s (%s) with role %s\n", res.User.Email, res.User.ID, res.User.Role)
			return nil
		},
	}
	addStoreFlags(cmd.Flags())
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	return cmd
}

// readPassword prompts on a terminal, otherwise reads one line.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
