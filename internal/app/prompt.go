package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/EpicMandM/vsphere-group-manager/internal/config"
)

// PromptCredentials asks on the terminal for whatever part of the login is
// missing: the username in clear, then the password without echo. It fails
// when something is missing and in is not a terminal.
func PromptCredentials(cfg *config.Config, in *os.File, out io.Writer) error {
	if !cfg.NeedsUsername() && !cfg.NeedsPassword() {
		return nil
	}
	fd := int(in.Fd())
	interactive := term.IsTerminal(fd)

	if cfg.NeedsUsername() {
		if !interactive {
			return fmt.Errorf("VSPHERE_USERNAME is required")
		}
		_, _ = fmt.Fprintf(out, "Enter the username for %s: ", cfg.VSphereURL)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read username: %w", err)
		}
		cfg.VSphereUsername = strings.TrimRight(line, "\r\n")
		if cfg.NeedsUsername() {
			return fmt.Errorf("VSPHERE_USERNAME is required")
		}
	}

	if !cfg.NeedsPassword() {
		return nil
	}
	if !interactive {
		return fmt.Errorf("VSPHERE_PASSWORD is required")
	}
	_, _ = fmt.Fprintf(out, "Enter the password for user %s at %s: ", cfg.VSphereUsername, cfg.VSphereURL)
	raw, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	cfg.VSpherePassword = strings.TrimRight(string(raw), "\r\n")
	if cfg.NeedsPassword() {
		return fmt.Errorf("VSPHERE_PASSWORD is required")
	}
	return nil
}
