// chatctl is a terminal client for the chat service. Each invocation signs
// in with --email and --password, runs one command and exits; commands
// that follow live data keep the user online until interrupted.
//
// Usage:
//
//	chatctl [global flags] <command> [command flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/BakhodirAbdullayev/orbital/internal/auth"
	"github.com/BakhodirAbdullayev/orbital/internal/client"
	"github.com/BakhodirAbdullayev/orbital/internal/logger"
)

// globals are the flags shared by every command.
type globals struct {
	addr     string
	useTLS   bool
	email    string
	password string
	logLevel string
}

func defaultGlobals() globals {
	return globals{
		addr:     envOr("CHAT_ADDR", "localhost:50051"),
		email:    os.Getenv("CHAT_EMAIL"),
		password: os.Getenv("CHAT_PASSWORD"),
		logLevel: "warn",
	}
}

// addFlags registers the shared flags on fs with the current values as
// defaults, so they may appear before or after the command name.
func (g *globals) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&g.addr, "addr", g.addr, "server address")
	fs.BoolVar(&g.useTLS, "tls", g.useTLS, "connect with TLS using the system roots")
	fs.StringVarP(&g.email, "email", "e", g.email, "account email")
	fs.StringVarP(&g.password, "password", "p", g.password, "account password")
	fs.StringVar(&g.logLevel, "log-level", g.logLevel, "log level (debug, info, warn, error)")
}

// command is one chatctl subcommand.
type command struct {
	name    string
	summary string
	flags   func(fs *pflag.FlagSet) func(ctx context.Context, a *app) error
}

var commands = []command{
	{"signup", "create an account and print it", signupCmd},
	{"me", "print the signed-in profile", meCmd},
	{"chats", "list conversations, most recent first", chatsCmd},
	{"users", "search people by name or email", usersCmd},
	{"send", "send a message, creating the chat if needed", sendCmd},
	{"watch", "follow a conversation while staying online", watchCmd},
	{"status", "follow a user's presence", statusCmd},
	{"online", "stay online until interrupted", onlineCmd},
	{"upload", "upload an image", uploadCmd},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	g := defaultGlobals()
	global := pflag.NewFlagSet("chatctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	g.addFlags(global)
	global.Usage = func() { printUsage(global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(global)
		return errors.New("no command given")
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	g.addFlags(fs)
	exec := cmd.flags(fs)
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	lg, err := logger.New("development", g.logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := connect(ctx, &g, lg, cmd.name != "signup")
	if err != nil {
		return err
	}
	defer a.close()
	a.out = out
	return exec(ctx, a)
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: chatctl [global flags] <command> [command flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(os.Stderr, "\nGlobal flags:")
	fs.PrintDefaults()
}

// app is a connected client plus where output goes.
type app struct {
	c   *client.Client
	g   *globals
	log *zap.Logger
	out io.Writer
}

// connect dials the server and, when signIn is set, signs in with the
// global credentials.
func connect(ctx context.Context, g *globals, lg *zap.Logger, signIn bool) (*app, error) {
	var creds credentials.TransportCredentials
	if g.useTLS {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}
	c, err := client.Dial(g.addr, creds, lg)
	if err != nil {
		return nil, err
	}
	a := &app{c: c, g: g, log: lg}

	if signIn {
		if g.email == "" || g.password == "" {
			_ = c.Close()
			return nil, errors.New("--email and --password are required")
		}
		if _, err := c.Session.SignIn(ctx, g.email, g.password); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return a, nil
}

// close signs out, which marks the user offline, and drops the
// connection.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	if err := a.c.Session.SignOut(ctx); err != nil {
		a.log.Warn("sign out failed", zap.Error(err))
	}
	_ = a.c.Close()
}

// describe prefers the user-facing text of auth errors.
func describe(err error) string {
	if ae := auth.FromError(err); ae != nil {
		return ae.UserMessage()
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
