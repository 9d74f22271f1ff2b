package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/internal/session"
)

// errQuit is returned by runConsole when the operator asks to exit.
var errQuit = errors.New("quit")

// operator is the part of the session machine the console drives.
type operator interface {
	EngageStart(ctx context.Context) error
	EngageEnd(ctx context.Context) error
	SendWakeWord(ctx context.Context, text string) error
	SetMode(ctx context.Context, mode session.Mode)
	Status() session.Status
}

const consoleHelp = `commands:
  <Enter>          start a turn (manual mode: press again to end it)
  /detect <text>   report a detected wake phrase
  /mode auto|manual
  /status
  /quit`

// runConsole reads operator commands from in, one per line, until ctx ends,
// in reaches EOF, or the operator quits. Command failures are reported on
// out and never end the console.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, op operator) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, strings.TrimSpace(line), out, op); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func handleLine(ctx context.Context, line string, out io.Writer, op operator) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		st := op.Status().Session
		if st.Mode == session.ModeManual && st.Listen == session.Listening {
			return op.EngageEnd(ctx)
		}
		return op.EngageStart(ctx)
	case "/detect":
		if arg == "" {
			return errors.New("usage: /detect <text>")
		}
		return op.SendWakeWord(ctx, arg)
	case "/mode":
		mode := session.Mode(arg)
		if !mode.IsValid() {
			return fmt.Errorf("unknown mode %q", arg)
		}
		op.SetMode(ctx, mode)
		slog.Info("console: mode set", "mode", mode)
		return nil
	case "/status":
		st := op.Status()
		fmt.Fprintf(out, "state=%s session=%q listen=%s speak=%s mode=%s\n",
			st.State, st.Session.ID, st.Session.Listen, st.Session.Speak, st.Session.Mode)
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(out, consoleHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try /help", cmd)
	}
}
