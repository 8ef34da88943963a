package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/telestream/internal/client"
	"github.com/xtxerr/telestream/internal/ingest"
	"github.com/xtxerr/telestream/internal/message"
	"github.com/xtxerr/telestream/internal/types"
)

// command is one shell verb.
type command struct {
	name  string
	usage string
	help  string
	run   func(sh *shell, args []string) error
}

var commands []command

// Assigned in init: help refers back to commands.
func init() {
	commands = []command{
		{"sync", "sync <topic>... [-range <start> <end>]", "request series from the server", (*shell).sync},
		{"watch", "watch [count]", "print streamed datapoints", (*shell).watch},
		{"publish", "publish <topic> <time> <value>", "send a datapoint to the server", (*shell).publish},
		{"export", "export <file.parquet> <topic>...", "sync topics and write them to a parquet file", (*shell).export},
		{"state", "state", "show connection state", (*shell).state},
		{"help", "help", "show commands", (*shell).help},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// shell executes commands against one client.
type shell struct {
	c       *client.Client
	out     io.Writer
	timeout time.Duration
}

// exec runs one input line.
func (sh *shell) exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return cmd.run(sh, args[1:])
}

func (sh *shell) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sh.timeout)
}

func parseSyncArgs(args []string) (message.Request, error) {
	var req message.Request
	for i := 0; i < len(args); i++ {
		if args[i] != "-range" {
			req.Topics = append(req.Topics, args[i])
			continue
		}
		if i+2 >= len(args) {
			return req, fmt.Errorf("-range needs <start> <end>")
		}
		start, err := strconv.ParseUint(args[i+1], 10, 64)
		if err != nil {
			return req, fmt.Errorf("range start: %w", err)
		}
		end, err := strconv.ParseUint(args[i+2], 10, 64)
		if err != nil {
			return req, fmt.Errorf("range end: %w", err)
		}
		req.Range = &message.Range{start, end}
		i += 2
	}
	if len(req.Topics) == 0 {
		return req, fmt.Errorf("usage: sync <topic>... [-range <start> <end>]")
	}
	return req, nil
}

func (sh *shell) sync(args []string) error {
	req, err := parseSyncArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := sh.context()
	defer cancel()
	updates, err := sh.c.Sync(ctx, req)
	if err != nil {
		return err
	}

	if len(updates) == 0 {
		fmt.Fprintln(sh.out, "no matching topics")
		return nil
	}
	for _, u := range updates {
		fmt.Fprintf(sh.out, "%s (%d points)\n", u.Topic, len(u.Data))
		for _, p := range u.Data {
			fmt.Fprintf(sh.out, "  %d\t%s\n", p.Time, p.Value)
		}
	}
	return nil
}

func (sh *shell) watch(args []string) error {
	count := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: watch [count]")
		}
		count = n
	}

	timer := time.NewTimer(sh.timeout)
	defer timer.Stop()

	for i := 0; i < count; i++ {
		select {
		case s, ok := <-sh.c.Datapoints():
			if !ok {
				return fmt.Errorf("connection closed")
			}
			fmt.Fprintf(sh.out, "%s\t%d\t%s\n", s.Topic, s.Time, s.Value)
		case <-timer.C:
			return fmt.Errorf("no datapoint within %s", sh.timeout)
		}
	}
	return nil
}

func (sh *shell) publish(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: publish <topic> <time> <value>")
	}
	t, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	v := types.Text(args[2])
	if f, err := strconv.ParseFloat(args[2], 64); err == nil {
		v = types.Number(f)
	}
	return sh.c.Publish(types.Sample{Topic: args[0], Time: t, Value: v})
}

func (sh *shell) export(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: export <file.parquet> <topic>...")
	}

	ctx, cancel := sh.context()
	defer cancel()
	updates, err := sh.c.Sync(ctx, message.Request{Topics: args[1:]})
	if err != nil {
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	w := ingest.NewWriter(f)
	for _, u := range updates {
		samples := make([]types.Sample, len(u.Data))
		for i, p := range u.Data {
			samples[i] = types.Sample{Topic: u.Topic, Time: p.Time, Value: p.Value}
		}
		if err := w.Write(samples); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	written, skipped := w.Rows()
	fmt.Fprintf(sh.out, "wrote %d rows to %s (%d records skipped)\n", written, args[0], skipped)
	return nil
}

func (sh *shell) state(args []string) error {
	fmt.Fprintf(sh.out, "%s (dropped %d)\n", sh.c.State(), sh.c.Dropped())
	if err := sh.c.Err(); err != nil {
		fmt.Fprintf(sh.out, "last error: %v\n", err)
	}
	return nil
}

func (sh *shell) help(args []string) error {
	for _, c := range commands {
		fmt.Fprintf(sh.out, "  %-40s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(sh.out, "  %-40s %s\n", "exit", "leave the shell")
	return nil
}
