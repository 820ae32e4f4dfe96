// Package main is the entry point for the sendmail CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/mailcmd/sendmail/internal/config"
	"github.com/mailcmd/sendmail/internal/email"
	"github.com/mailcmd/sendmail/internal/smtp"
	mailtls "github.com/mailcmd/sendmail/internal/tls"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sendmail: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sendmail",
		Usage: "compose an email and send it over an authenticated STARTTLS SMTP session",
		Description: "The server password is read from the MAIL_PASSWORD environment\n" +
			"variable, or prompted for with -p. Defaults for the server and sender\n" +
			"identity can be kept in a YAML file passed via --config.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "to", Aliases: []string{"t"}, Usage: "recipient email `address` (repeatable)"},
			&cli.StringSliceFlag{Name: "bcc", Aliases: []string{"b"}, Usage: "BCC recipient email `address` (repeatable)"},
			&cli.StringSliceFlag{Name: "attach", Aliases: []string{"a"}, Usage: "attachment file `path` (repeatable)"},
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "email subject"},
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "email body text"},
			&cli.StringFlag{Name: "server", Aliases: []string{"m"}, Usage: "SMTP server, `host` or host:port (port 587 assumed)"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "user login (usually the sender email)"},
			&cli.StringFlag{Name: "from", Aliases: []string{"f"}, Usage: "display `name` for the From header; the login address is used if omitted"},
			&cli.StringFlag{Name: "reply-to", Aliases: []string{"r"}, Usage: "reply address (if different from sender)"},
			&cli.BoolFlag{Name: "password", Aliases: []string{"p"}, Usage: "prompt for the server password instead of reading MAIL_PASSWORD"},
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "don't send the email, just print it"},
			&cli.StringFlag{Name: "config", Usage: "path to YAML defaults `file`"},
			&cli.StringFlag{Name: "env-file", Usage: "load environment variables from this `file` before anything else"},
			&cli.StringFlag{Name: "tls-ca", Usage: "PEM `file` with private CA certificates for STARTTLS verification"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "smtp-log", Usage: "log the SMTP conversation (implies debug level)"},
			&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "overall delivery timeout"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	level := firstNonEmpty(c.String("log-level"), cfg.Logging.Level)
	if c.Bool("smtp-log") {
		level = "debug"
	}
	setupLogger(level)

	server := firstNonEmpty(c.String("server"), cfg.Mail.Server)
	login := firstNonEmpty(c.String("user"), cfg.Mail.Login)

	password, err := resolvePassword(c.Bool("password"), login, server)
	if err != nil {
		return err
	}

	req := email.SendRequest{
		SenderLogin: login,
		SenderName:  firstNonEmpty(c.String("from"), cfg.Mail.FromName),
		Subject:     c.String("subject"),
		Body:        c.String("content"),
		To:          c.StringSlice("to"),
		Bcc:         c.StringSlice("bcc"),
		Attachments: c.StringSlice("attach"),
		ReplyTo:     firstNonEmpty(c.String("reply-to"), cfg.Mail.ReplyTo),
		ServerHost:  server,
		Password:    password,
		DryRun:      c.Bool("dry-run"),
	}

	msg, err := email.Build(req)
	if err != nil {
		return err
	}

	if req.DryRun {
		raw, err := msg.Bytes()
		if err != nil {
			return err
		}
		os.Stdout.Write(raw)
		fmt.Println()
		return nil
	}

	tlsCfg, err := mailtls.ClientConfigWithCA(serverName(server), firstNonEmpty(c.String("tls-ca"), cfg.TLS.CAFile))
	if err != nil {
		return err
	}

	err = smtp.Deliver(context.Background(), smtp.Config{
		Host:      server,
		Login:     login,
		Password:  password,
		TLSConfig: tlsCfg,
		Timeout:   c.Duration("timeout"),
	}, msg)
	if err != nil {
		return err
	}

	slog.Info("message sent", "server", server, "recipients", len(msg.Envelope()))
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// resolvePassword obtains the server password, prompting on the
// terminal when asked or falling back to the MAIL_PASSWORD environment
// variable. The password is never echoed or logged.
func resolvePassword(prompt bool, login, server string) (string, error) {
	if prompt {
		fmt.Fprintf(os.Stderr, "Enter password for %s on %s: ", login, server)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}

	if pw := os.Getenv("MAIL_PASSWORD"); pw != "" {
		return pw, nil
	}
	return "", fmt.Errorf("-p/--password not given and environment variable MAIL_PASSWORD is empty")
}

// setupLogger configures the global slog logger with text output on
// stderr and the specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// serverName strips an optional port from the configured server, giving
// the name the TLS certificate is verified against.
func serverName(server string) string {
	host, _, err := net.SplitHostPort(server)
	if err != nil {
		return server
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
