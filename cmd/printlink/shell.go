package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

const shellHelp = `commands:
  connect ADDRESS          open and hold a connection
  disconnect [ADDRESS]     close the held connection
  send ADDRESS TEXT...     send TEXT followed by a newline
  print ADDRESS FILE       send a file
  query ADDRESS KEY...     read settings
  status ADDRESS           show printer status
  scan [KIND]              discover printers (%s)
  stop                     stop discovery
  state                    show the connection state
  quit
`

func runShell(ctx context.Context, a *App, args []string) error {
	go a.printEvents(ctx, os.Stdout)
	go a.watchLinks(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Printf("%s v%s shell, type help for commands\n", AppName, AppVersion)
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}
		args := fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := a.shellCommand(ctx, os.Stdout, args); err != nil {
			fmt.Printf("error: %s\n", describe(err))
		}
	}
}

func (a *App) shellCommand(ctx context.Context, out io.Writer, args []string) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s), see help", args[0], n-1)
		}
		return nil
	}
	switch args[0] {
	case "help":
		fmt.Fprintf(out, shellHelp, kindList())
	case "connect":
		if err := need(2); err != nil {
			return err
		}
		return a.svc.Connect(ctx, a.resolve(args[1]))
	case "disconnect":
		address := ""
		if len(args) > 1 {
			address = a.resolve(args[1])
		}
		return a.svc.Disconnect(ctx, address)
	case "send":
		if err := need(3); err != nil {
			return err
		}
		text := strings.Join(args[2:], " ") + "\n"
		res, err := a.svc.Send(ctx, a.resolve(args[1]), []byte(text), "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d bytes sent (%s)\n", res.Written, res.Readiness)
	case "print":
		if err := need(3); err != nil {
			return err
		}
		payload, err := readPayload(args[2])
		if err != nil {
			return err
		}
		res, err := a.svc.Send(ctx, a.resolve(args[1]), payload, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d bytes sent (%s)\n", res.Written, res.Readiness)
	case "query":
		if err := need(3); err != nil {
			return err
		}
		values, err := a.svc.Query(ctx, a.resolve(args[1]), args[2:]...)
		if err != nil {
			return err
		}
		for i, k := range args[2:] {
			fmt.Fprintf(out, "%s = %q\n", k, values[i])
		}
	case "status":
		if err := need(2); err != nil {
			return err
		}
		st, err := a.svc.PrinterStatus(ctx, a.resolve(args[1]))
		if err != nil {
			return err
		}
		printStatus(out, st)
	case "scan":
		kind := transport.KindBluetooth
		if len(args) > 1 {
			k, err := transport.ParseKind(args[1])
			if err != nil {
				return err
			}
			kind = k
		}
		_, err := a.svc.StartDiscovery(kind)
		return err
	case "stop":
		if !a.svc.StopDiscovery() {
			fmt.Fprintln(out, "no discovery running")
		}
	case "state":
		if address, ok := a.svc.ActiveAddress(); ok {
			fmt.Fprintf(out, "%s to %s\n", a.svc.State(), address)
		} else {
			fmt.Fprintln(out, a.svc.State())
		}
	default:
		return fmt.Errorf("unknown command %q, see help", args[0])
	}
	return nil
}

// printEvents reports notifications as they arrive.
// watchLinks tears down the held connection when the host reports its link
// dropped, until ctx ends.
func (a *App) watchLinks(ctx context.Context) {
	if a.monitor == nil {
		return
	}
	err := a.svc.WatchLinks(ctx, a.monitor)
	switch {
	case err == nil:
	case errors.Is(err, printer.ErrUnavailable):
		a.log.Debug("link monitoring unavailable", zap.Error(err))
	default:
		a.log.Warn("link monitor stopped", zap.Error(err))
	}
}

func (a *App) printEvents(ctx context.Context, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-a.svc.Events():
			if !ok {
				return
			}
			if line := eventLine(e); line != "" {
				fmt.Fprintf(out, "\n* %s\n", line)
			}
		}
	}
}

func eventLine(e printer.Event) string {
	switch e.Type {
	case printer.EventDeviceFound:
		return fmt.Sprintf("found %s %s", e.Device.Address, e.Device.Name())
	case printer.EventDiscoveryFinished:
		return fmt.Sprintf("discovery finished, %d printer(s)", len(e.Devices))
	case printer.EventDiscoveryError:
		return "discovery failed: " + describe(e.Err)
	case printer.EventConnectionStateChanged:
		c := e.Connection
		if c.State != printer.StateConnected && c.State != printer.StateDisconnected {
			return ""
		}
		if c.Err != nil {
			return fmt.Sprintf("%s %s: %v", c.Address, c.State, c.Err)
		}
		return fmt.Sprintf("%s %s", c.Address, c.State)
	}
	return ""
}
