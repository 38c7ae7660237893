// Package auth reads generation credentials from an operator.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tinyland-inc/wxclaw/pkg/providers"
)

var ErrEmptyToken = errors.New("token cannot be empty")

// PasteToken prompts on w and reads one API key line from r.
func PasteToken(protocol string, r io.Reader, w io.Writer) (string, error) {
	fmt.Fprintf(w, "Paste your API key from %s:\n", providerDisplayName(protocol))
	fmt.Fprint(w, "> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return "", errors.New("no input received")
	}

	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func providerDisplayName(protocol string) string {
	switch protocol {
	case providers.ProtocolAnthropic:
		return "console.anthropic.com"
	case providers.ProtocolOpenAI:
		return "platform.openai.com"
	default:
		return "your " + protocol + " endpoint"
	}
}
