package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/keyxmakerx/naturerisk/internal/client"
)

const defaultServer = "http://localhost:8080"

var errUsage = errors.New("usage")

// readPassword is a seam for term.ReadPassword so tests never touch a TTY.
var readPassword = term.ReadPassword

// CLI holds the wiring of one riskctl invocation.
type CLI struct {
	Store  client.TokenStore
	Stdin  io.Reader
	Stdout io.Writer

	reader *bufio.Reader
}

func (c *CLI) usage(fs *flag.FlagSet) {
	fmt.Fprintln(fs.Output(), `usage: riskctl [-server URL] <command> [args]

commands:
  register                  create an account
  login                     log in with email and password
  secret                    show (or issue) your TOTP secret
  verify <code>             submit a six-digit TOTP code
  predict <water> <rain> <temp>
                            drought risk for the given readings
  logout                    forget the stored token`)
	fs.PrintDefaults()
}

// Run parses args and executes one command.
func (c *CLI) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("riskctl", flag.ContinueOnError)
	fs.SetOutput(c.Stdout)
	server := fs.String("server", envOr("RISKCTL_SERVER", defaultServer), "gateway base URL")
	fs.Usage = func() { c.usage(fs) }

	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	c.reader = bufio.NewReader(c.Stdin)
	api := client.New(*server, c.Store)
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "register":
		return c.register(ctx, api)
	case "login":
		return c.login(ctx, api)
	case "secret":
		return c.secret(ctx, api)
	case "verify":
		if len(rest) != 1 {
			fs.Usage()
			return errUsage
		}
		return c.verify(ctx, api, rest[0])
	case "predict":
		if len(rest) != 3 {
			fs.Usage()
			return errUsage
		}
		return c.predict(ctx, api, rest)
	case "logout":
		if err := api.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(c.Stdout, "Logged out.")
		return nil
	default:
		fmt.Fprintf(c.Stdout, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

func (c *CLI) register(ctx context.Context, api *client.Client) error {
	username, err := c.prompt("Username")
	if err != nil {
		return err
	}
	email, err := c.prompt("Email")
	if err != nil {
		return err
	}
	password, err := c.password()
	if err != nil {
		return err
	}

	id, err := api.Register(ctx, username, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "Registered %s (id %s). Run `riskctl login` next.\n", email, id)
	return nil
}

func (c *CLI) login(ctx context.Context, api *client.Client) error {
	email, err := c.prompt("Email")
	if err != nil {
		return err
	}
	password, err := c.password()
	if err != nil {
		return err
	}

	s, err := api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "Logged in until %s. Run `riskctl secret` to enrol, then `riskctl verify <code>`.\n",
		s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

func (c *CLI) secret(ctx context.Context, api *client.Client) error {
	p, err := api.GetTOTPSecret(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "TOTP secret: %s\nAuthenticator URL: %s\n", p.Secret, p.URL)
	return nil
}

func (c *CLI) verify(ctx context.Context, api *client.Client, code string) error {
	s, err := api.Verify2FA(ctx, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	msg := s.Message
	if msg == "" {
		msg = "2FA verified."
	}
	fmt.Fprintln(c.Stdout, msg)
	return nil
}

func (c *CLI) predict(ctx context.Context, api *client.Client, args []string) error {
	var vals [3]float64
	names := [3]string{"water level", "rainfall", "temperature"}
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("%s %q is not a number", names[i], a)
		}
		vals[i] = v
	}

	risk, err := api.Predict(ctx, client.Readings{WaterLevel: vals[0], Rainfall: vals[1], Temperature: vals[2]})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "Drought risk: %s\n", risk)
	return nil
}

func (c *CLI) prompt(label string) (string, error) {
	fmt.Fprintf(c.Stdout, "%s: ", label)
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// password reads without echo from a terminal, or a plain line otherwise.
func (c *CLI) password() (string, error) {
	if f, ok := c.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.Stdout, "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(c.Stdout)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}
	return c.prompt("Password")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
