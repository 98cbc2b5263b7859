package app

import (
	"bufio"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Command is what the operator asked the process to do next.
type Command int

const (
	// Quit stops the process.
	Quit Command = iota
	// Restart rebuilds the app from storage and serves again.
	Restart
)

// ScanLines reads r line by line on its own goroutine. The channel closes at EOF.
func ScanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// Serve runs the app until ctx ends or the console asks to quit or restart. Console lines:
//
//	q            quit
//	!            restart
//	admin <msg>  send an admin message to every player and game server
//
// A nil lines channel disables the console.
func (a *App) Serve(ctx context.Context, lines <-chan string) (Command, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(runCtx)
	}()

	next := Quit
	for {
		select {
		case err := <-done:
			return next, err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " "); cmd {
			case "":
			case "q":
				next = Quit
				cancel()
			case "!":
				next = Restart
				cancel()
			case "admin":
				if arg = strings.TrimSpace(arg); arg != "" {
					a.handlers.AdminBroadcast(arg)
				}
			default:
				a.logger.Warn("unknown console command", zap.String("command", cmd))
			}
		}
	}
}
