package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/christopherjohns/groupchat/internal/chatclient"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	serverURL := flag.String("server", "http://localhost:3000", "chat server base URL")
	register := flag.Bool("register", false, "create the account before logging in")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *serverURL, *register, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL string, register bool, stdin *os.File, out io.Writer) error {
	client, err := chatclient.New(serverURL)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(stdin)
	fmt.Fprint(out, "Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(out, "Password: ")
	password, err := readPassword(int(stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if register {
		if err := client.Register(callCtx, username, string(password)); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Fprintln(out, "Registered.")
	}
	if err := client.Login(callCtx, username, string(password)); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := client.Connect(callCtx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(out, "Logged in as %s. Type a message and press Enter; Ctrl-D to quit.\n", client.Username())
	return chatclient.RunSession(ctx, client, reader, out)
}
