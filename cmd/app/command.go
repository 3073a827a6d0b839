// Package app builds the notary-chat command tree.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"notary-chat/handler"
)

func NewCommand(version string) *cobra.Command {
	opt := &Option{}
	cmd := &cobra.Command{
		Use:          "notary-chat",
		Long:         "notary-chat drafts contracts through a chat with the notary assistant",
		Example:      figure.NewColorFigure("notary-chat", "isometric1", "green", true).String(),
		Version:      version,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	opt.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newVersionCommand(version),
		newLoginCommand(opt),
		newRegisterCommand(opt),
		newLogoutCommand(opt),
		newForgotPasswordCommand(opt),
		newResetPasswordCommand(opt),
		newHistoryCommand(opt),
		newDocumentCommand(opt),
		newChatCommand(opt),
	)
	return cmd
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print version and exit",
		Example: "notary-chat version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "version:", version)
		},
	}
}

func newLoginCommand(opt *Option) *cobra.Command {
	var email, password, param string
	var fromParam bool
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Sign in and store the session",
		Example: "notary-chat login --email ana@example.com\nnotary-chat login --from-param --param /notary/login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			m, err := r.sessions(ctx)
			if err != nil {
				return err
			}

			if fromParam {
				name := param
				if name == "" {
					name = r.cfg.Session.CredentialsParam
				}
				if name == "" {
					return errors.New("login: --param or session.credentialsParam is required with --from-param")
				}
				ps, err := r.paramstore(ctx)
				if err != nil {
					return err
				}
				creds, err := m.LoginFromParam(ctx, ps, name)
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sesión iniciada (usuario %d).\n", creds.UserID)
				return nil
			}

			if password == "" {
				password, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Contraseña: ")
				if err != nil {
					return err
				}
			}
			creds, err := m.Login(ctx, email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sesión iniciada (usuario %d).\n", creds.UserID)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&email, "email", "e", "", "account email")
	fs.StringVar(&password, "password", "", "account password, read from stdin when empty")
	fs.BoolVar(&fromParam, "from-param", false, "read email and password from AWS Parameter Store")
	fs.StringVar(&param, "param", "", "parameter name, overrides session.credentialsParam")
	return cmd
}

func newRegisterCommand(opt *Option) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Create an account and store the session",
		Example: "notary-chat register --email ana@example.com --name Ana",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			m, err := r.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if password == "" {
				password, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Contraseña: ")
				if err != nil {
					return err
				}
			}
			creds, err := m.Register(cmd.Context(), email, password, name)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cuenta creada (usuario %d).\n", creds.UserID)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&email, "email", "e", "", "account email")
	fs.StringVar(&password, "password", "", "account password, read from stdin when empty")
	fs.StringVarP(&name, "name", "n", "", "display name")
	return cmd
}

func newLogoutCommand(opt *Option) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			m, err := r.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sesión cerrada.")
			return nil
		},
	}
}

func newForgotPasswordCommand(opt *Option) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			m, err := r.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.ForgotPassword(cmd.Context(), email); err != nil {
				return fmt.Errorf("forgot-password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Si el correo existe, recibirás un enlace para restablecer la contraseña.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func newResetPasswordCommand(opt *Option) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			m, err := r.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if password == "" {
				password, err = prompt(cmd.InOrStdin(), cmd.OutOrStdout(), "Nueva contraseña: ")
				if err != nil {
					return err
				}
			}
			if err := m.ResetPassword(cmd.Context(), token, password); err != nil {
				return fmt.Errorf("reset-password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Contraseña actualizada.")
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&token, "token", "t", "", "reset token from the email")
	fs.StringVar(&password, "password", "", "new password, read from stdin when empty")
	return cmd
}

func newHistoryCommand(opt *Option) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the conversations of the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			creds, err := r.credentials(cmd.Context())
			if err != nil {
				return err
			}
			console, err := handler.NewConsole(cmd.ErrOrStderr(), handler.WithLogger(r.log))
			if err != nil {
				return err
			}
			ws, err := r.workspace(creds, console)
			if err != nil {
				return err
			}
			list, err := ws.LoadHistory(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No hay conversaciones.")
				return nil
			}
			for _, c := range list {
				flag := ""
				if c.ContractAvailable {
					flag = " [contrato]"
				}
				fmt.Fprintf(out, "%6d  %s%s\n", c.RemoteID, c.Title, flag)
			}
			return nil
		},
	}
}

func newDocumentCommand(opt *Option) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:     "document <chat-id>",
		Short:   "Print the contract of a conversation",
		Example: "notary-chat document 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || remoteID <= 0 {
				return fmt.Errorf("document: invalid chat id %q", args[0])
			}
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			doc, err := r.api.ContractDocument(cmd.Context(), remoteID)
			if err != nil {
				return fmt.Errorf("document: %w", err)
			}
			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(out, doc.HTML)
				return nil
			}
			if doc.Title != "" {
				fmt.Fprintf(out, "== %s ==\n", doc.Title)
			}
			fmt.Fprintln(out, doc.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "html", false, "print the HTML fragment as served")
	return cmd
}

func newChatCommand(opt *Option) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive drafting session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRuntime(opt)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			creds, err := r.credentials(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			console, err := handler.NewConsole(out, handler.WithLogger(r.log))
			if err != nil {
				return err
			}
			ws, err := r.workspace(creds, console)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, figure.NewFigure("notary-chat", "standard", true).String())
			fmt.Fprintln(out, "Escribe /help para ver los comandos.")
			return console.Run(ctx, ws, cmd.InOrStdin())
		},
	}
}

// prompt writes label and reads one line from in.
func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}

// Execute runs the command tree with a background context.
func Execute(version string) error {
	return NewCommand(version).ExecuteContext(context.Background())
}
