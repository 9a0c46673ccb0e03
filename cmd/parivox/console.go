package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/parivox/internal/persona"
	"github.com/MrWong99/parivox/internal/resilience"
	"github.com/MrWong99/parivox/internal/session"
)

// controller is the part of [session.Controller] the console drives.
type controller interface {
	Start(ctx context.Context, key string) error
	SwitchPersona(ctx context.Context, key string) error
	Stop(ctx context.Context) error
	State() session.State
	Persona() persona.Persona
}

// catalog lists the selectable persona keys.
type catalog interface {
	Keys() []string
}

// dialBreaker is the circuit breaker guarding the live dial.
type dialBreaker interface {
	State() resilience.State
	Reset()
}

// console maps stdin commands onto the session controller.
type console struct {
	ctrl     controller
	personas catalog
	breaker  dialBreaker
	out      io.Writer
}

func newConsole(ctrl controller, personas catalog, breaker dialBreaker, out io.Writer) *console {
	return &console{ctrl: ctrl, personas: personas, breaker: breaker, out: out}
}

// handle runs one command line. It returns false when the user asked to quit.
func (c *console) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "":
		return true
	case "quit", "exit":
		return false
	case "start":
		err = c.ctrl.Start(ctx, arg)
	case "stop":
		err = c.ctrl.Stop(ctx)
	case "switch":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: switch <persona>")
			return true
		}
		err = c.ctrl.SwitchPersona(ctx, arg)
	case "status":
		p := c.ctrl.Persona()
		fmt.Fprintf(c.out, "state=%s persona=%s (%s)\n", c.ctrl.State(), p.Key, p.Name)
		return true
	case "personas":
		fmt.Fprintln(c.out, strings.Join(c.personas.Keys(), ", "))
		return true
	case "reset":
		prev := c.breaker.State()
		c.breaker.Reset()
		fmt.Fprintf(c.out, "dial breaker reset (was %s)\n", prev)
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q; try start, stop, switch <persona>, status, personas, reset, quit\n", cmd)
		return true
	}
	if err != nil {
		slog.Warn("console command failed", "command", cmd, "err", err)
		fmt.Fprintf(c.out, "%s: %v\n", cmd, err)
	}
	return true
}

// readLines streams r line by line until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
