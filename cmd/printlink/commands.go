package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"printlink/internal/printer"
	"printlink/internal/transport"
)

func runDiscover(ctx context.Context, a *App, args []string) error {
	fs := flagSet("discover")
	kindName := fs.StringP("kind", "k", "bluetooth", "what to scan: "+kindList())
	timeout := fs.DurationP("timeout", "t", time.Minute, "give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := transport.ParseKind(*kindName)
	if err != nil {
		return err
	}

	session, err := a.svc.StartDiscovery(kind)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "scanning for %s printers...\n", kind)
	for {
		select {
		case e := <-a.svc.Events():
			switch e.Type {
			case printer.EventDeviceFound:
				fmt.Printf("%-22s %s\n", e.Device.Address, e.Device.Name())
			case printer.EventDiscoveryFinished:
				fmt.Fprintf(os.Stderr, "%d printer(s) found\n", len(e.Devices))
				return a.registry.Seen(e.Devices, time.Now())
			case printer.EventDiscoveryError:
				return e.Err
			}
		case <-ctx.Done():
			a.svc.StopDiscovery()
			<-session.Done()
			fmt.Fprintln(os.Stderr, "scan stopped")
			return a.registry.Seen(session.Devices(), time.Now())
		}
	}
}

func runPaired(ctx context.Context, a *App, args []string) error {
	devices, err := a.svc.PairedDevices(ctx)
	if err != nil {
		return err
	}
	if err := a.registry.Seen(devices, time.Now()); err != nil {
		a.log.Warn("remembering paired devices", zap.Error(err))
	}
	printDevices(os.Stdout, devices)
	return nil
}

func runPair(ctx context.Context, a *App, args []string) error {
	fs := flagSet("pair")
	wait := fs.DurationP("wait", "w", 30*time.Second, "wait this long for the bond to appear, 0 to return at once")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	address := a.resolve(fs.Arg(0))
	if err := a.svc.Pair(ctx, address); err != nil {
		return err
	}
	fmt.Printf("pairing with %s requested; confirm on the printer if asked\n", address)
	if *wait <= 0 {
		return nil
	}
	return awaitBond(ctx, a, address, *wait)
}

// awaitBond polls the paired list until address shows up.
func awaitBond(ctx context.Context, a *App, address string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not paired after %s", address, wait)
		case <-tick.C:
		}
		devices, err := a.svc.PairedDevices(ctx)
		if err != nil {
			a.log.Debug("listing paired devices", zap.Error(err))
			continue
		}
		for _, d := range devices {
			if strings.EqualFold(d.Address, address) {
				fmt.Printf("paired with %s\n", d.Name())
				return nil
			}
		}
	}
}

func runUnpair(ctx context.Context, a *App, args []string) error {
	fs := flagSet("unpair")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	return a.svc.Unpair(ctx, a.resolve(fs.Arg(0)))
}

func runSend(ctx context.Context, a *App, args []string) error {
	fs := flagSet("send")
	encoding := fs.StringP("encoding", "e", "", "transcode the file from UTF-8 to this charset (e.g. windows-1252)")
	copies := fs.IntP("copies", "n", 1, "send the file this many times")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2); err != nil {
		return err
	}
	payload, err := readPayload(fs.Arg(1))
	if err != nil {
		return err
	}
	address := a.resolve(fs.Arg(0))

	// Hold the link for repeated copies so each job after the first reuses it.
	if *copies > 1 {
		if err := a.svc.Connect(ctx, address); err != nil {
			return err
		}
		defer a.svc.Disconnect(context.WithoutCancel(ctx), address)
	}
	for i := range max(*copies, 1) {
		res, err := a.svc.Send(ctx, address, payload, *encoding)
		if err != nil {
			return err
		}
		fmt.Printf("copy %d: %d bytes sent (%s)\n", i+1, res.Written, res.Readiness)
	}
	return nil
}

func readPayload(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func runQuery(ctx context.Context, a *App, args []string) error {
	fs := flagSet("query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2); err != nil {
		return err
	}
	keys := fs.Args()[1:]
	values, err := a.svc.Query(ctx, a.resolve(fs.Arg(0)), keys...)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, k := range keys {
		fmt.Fprintf(w, "%s\t%q\n", k, values[i])
	}
	return w.Flush()
}

func runInfo(ctx context.Context, a *App, args []string) error {
	fs := flagSet("info")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	info, err := a.svc.PrinterInfo(ctx, a.resolve(fs.Arg(0)))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Model\t%s\nSerial\t%s\nFirmware\t%s\nLanguage\t%s\n", info.Model, info.Serial, info.Firmware, info.Language)
	return w.Flush()
}

func runStatus(ctx context.Context, a *App, args []string) error {
	fs := flagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1); err != nil {
		return err
	}
	st, err := a.svc.PrinterStatus(ctx, a.resolve(fs.Arg(0)))
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(out io.Writer, st printer.Status) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Paper out\t%s\nPaused\t%s\nHead open\t%s\nHead temperature\t%s\n",
		yesNo(st.PaperOut), yesNo(st.Paused), yesNo(st.HeadOpen), st.Temperature)
	w.Flush()
}

func runDevices(ctx context.Context, a *App, args []string) error {
	fs := flagSet("devices")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch fs.Arg(0) {
	case "":
		entries, err := a.registry.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tNAME\tALIAS\tTYPE\tLAST SEEN")
		for _, e := range entries {
			seen := "-"
			if !e.LastSeen.IsZero() {
				seen = e.LastSeen.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Address, e.Name(), e.Alias, e.Kind, seen)
		}
		return w.Flush()
	case "alias":
		if err := needArgs(fs, 3); err != nil {
			return err
		}
		return a.registry.SetAlias(fs.Arg(1), fs.Arg(2))
	case "forget":
		if err := needArgs(fs, 2); err != nil {
			return err
		}
		return a.registry.Delete(a.resolve(fs.Arg(1)))
	default:
		fs.Usage()
		return fmt.Errorf("unknown devices action %q", fs.Arg(0))
	}
}

func printDevices(out io.Writer, devices []printer.Device) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tTYPE\tCONNECTED")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Address, d.Name(), d.Kind, yesNo(d.Connected))
	}
	w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func fields(line string) []string {
	return strings.Fields(strings.TrimSpace(line))
}
