package main

import (
	"bufio"
	"context"
	"dbviewer/internal/core"
	"dbviewer/internal/logger"
	"dbviewer/internal/service"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// handleCheck validates a connection the way the server would, without
// starting it, and prints the classified outcome.
func handleCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	host := fs.String("url", "", "Host, host:port or tcp:// tunnel address")
	user := fs.String("u", "", "Username")
	database := fs.String("d", "", "Database")
	direct := fs.String("direct", "", "postgres:// connection URL (instead of -url/-u/-d)")
	sslmode := fs.String("sslmode", "disable", "sslmode for host-based connections")
	timeout := fs.Duration("timeout", 10*time.Second, "Connect timeout")
	fs.Parse(args)

	cfg := core.ConnectionConfig{Kind: core.ConnDirectURL, URL: *direct}
	if *direct == "" {
		if *host == "" || *user == "" || *database == "" {
			fmt.Println("Usage: dbviewer check -url <host[:port]> -u <user> -d <database>")
			return 2
		}
		password, err := readPassword()
		if err != nil {
			fmt.Printf("Failed to read password: %v\n", err)
			return 1
		}
		cfg = core.ConnectionConfig{Kind: core.ConnHostBased, URL: *host, Username: *user, Password: password, Database: *database}
	}

	logger.Log.SetLevel(logrus.WarnLevel)
	manager := service.NewSessionManager(service.PostgresOpener(service.PoolOptions{MaxOpenConns: 1}), nil, service.ManagerOptions{
		ConnectTimeout: *timeout,
		SSLMode:        *sslmode,
	})
	defer manager.Close()

	s, err := manager.Connect(context.Background(), "check", cfg)
	if err != nil {
		printError(err)
		return 1
	}
	info := s.Info()
	fmt.Printf("OK: connected to %q on %s as %s\n", info.Database, info.Host, info.Username)
	return 0
}

func readPassword() (string, error) {
	fmt.Print("Password: ")
	if !term.IsTerminal(int(syscall.Stdin)) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	passBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // newline after hidden input
	return string(passBytes), err
}

func printError(err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		fmt.Printf("FAILED: %v\n", err)
		return
	}
	fmt.Printf("FAILED [%s]: %s\n", e.Code, e.Message)
	for field, msg := range e.Fields {
		fmt.Printf("  %s: %s\n", field, msg)
	}
}
