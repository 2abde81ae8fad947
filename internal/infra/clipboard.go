package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

var ErrNoClipboard = errors.New("no clipboard tool available")

// SystemClipboard pipes text into the platform clipboard utility.
type SystemClipboard struct {
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
	goos     string
}

func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		goos:     runtime.GOOS,
	}
}

// candidates lists clipboard commands in preference order.
func clipboardCandidates(goos string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{{"pbcopy"}}
	case "windows":
		return [][]string{{"clip.exe"}}
	default:
		return [][]string{
			{"wl-copy"},
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
			{"clip.exe"},
		}
	}
}

func (c *SystemClipboard) Copy(ctx context.Context, text string) error {
	for _, argv := range clipboardCandidates(c.goos) {
		bin, err := c.lookPath(argv[0])
		if err != nil {
			continue
		}
		cmd := c.command(ctx, bin, argv[1:]...)
		cmd.Stdin = strings.NewReader(text)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	return ErrNoClipboard
}
