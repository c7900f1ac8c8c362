package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yllada/nm-openvpn/keyring"
)

// errNotTerminal is returned when a secret is needed but stdin cannot
// hide input.
var errNotTerminal = errors.New("no credentials stored and stdin is not a terminal; run --store-credentials first")

// readPassword reads a line from in without echo.
func readPassword(in *os.File, out io.Writer, label string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", errNotTerminal
	}

	fmt.Fprint(out, label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

// TerminalPrompt asks for the OpenVPN username and password on the
// controlling terminal.
func TerminalPrompt(in *os.File, out io.Writer) keyring.PromptFunc {
	return func(ctx context.Context) (string, string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", "", errNotTerminal
		}

		fmt.Fprintln(out, titleStyle.Render("OpenVPN credentials required"))
		fmt.Fprint(out, "Username: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
		username := strings.TrimSpace(line)
		if username == "" {
			return "", "", errors.New("username cannot be empty")
		}

		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		password, err := readPassword(in, out, "Password: ")
		if err != nil {
			return "", "", err
		}
		return username, password, nil
	}
}
