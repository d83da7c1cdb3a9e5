package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/api"
	"github.com/lfelipe/chirp/internal/config"
	"github.com/lfelipe/chirp/internal/daemon"
	"github.com/lfelipe/chirp/internal/session"
	"github.com/lfelipe/chirp/internal/token"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (overrides default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "login":
			cmdAuth(sessionName, *configFlag, false)
		case "register":
			cmdAuth(sessionName, *configFlag, true)
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
			printUsage()
			os.Exit(1)
		}
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, ConfigPath: *configFlag}),
	)

	app.Run()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chirpd [--session <name>] [--config <path>] [command]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login       Authenticate and save the session's token pair")
	fmt.Fprintln(os.Stderr, "  register    Create an account and save the session's token pair")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "With no command, runs the sync daemon for the session.")
}

// cmdAuth resolves the config and session paths and then runs the
// interactive login or register flow against the backend.
func cmdAuth(sessionName, configPath string, register bool) {
	path := configPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: create session dir: %v\n", err)
		os.Exit(1)
	}
	if err := runAuth(register, cfg.API.BaseURL, session.TokenPath(sessionName), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runAuth prompts for credentials, authenticates against the backend, and
// leaves the returned token pair saved at tokenPath for the daemon to use.
func runAuth(register bool, baseURL, tokenPath string, in io.Reader, out io.Writer) error {
	tokens := token.NewStore(tokenPath)
	client, err := api.NewClient(baseURL, tokens, zap.NewNop())
	if err != nil {
		return err
	}

	creds, err := readCredentials(in, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var userID string
	if register {
		userID, err = client.Register(ctx, creds)
	} else {
		userID, err = client.Login(ctx, creds)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s\n", userID)
	return nil
}

func readCredentials(in io.Reader, out io.Writer) (api.Credentials, error) {
	r := bufio.NewReader(in)
	fmt.Fprint(out, "username: ")
	user, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return api.Credentials{}, err
	}
	fmt.Fprint(out, "password: ")
	pass, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return api.Credentials{}, err
	}
	creds := api.Credentials{
		Username: strings.TrimSpace(user),
		Password: strings.TrimRight(pass, "\r\n"),
	}
	if creds.Username == "" || creds.Password == "" {
		return api.Credentials{}, fmt.Errorf("username and password are required")
	}
	return creds, nil
}
