package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yllada/travelnet/common"
)

// PromptPassword reads a WiFi password from the terminal with echo
// disabled. The prompt is written to errOut so stdout stays clean.
func PromptPassword(in *os.File, errOut io.Writer, ssid string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", common.NewValidationError("password", "no terminal available for an interactive prompt (use --password)")
	}

	fmt.Fprintf(errOut, "Password for %s: ", ssid)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(string(b), "\r\n")
	if err := common.ValidatePassword(password); err != nil {
		return "", err
	}
	return password, nil
}
