// telestream-cli is an interactive client for telestreamd.
//
// With arguments it runs one command and exits. Without arguments it reads
// commands from stdin, with line editing and completion when stdin is a
// terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/telestream/internal/client"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:3030/datastore", "server websocket URL")
	tcp := flag.String("tcp", "", "connect over raw TCP to this address instead")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	c, err := connect(*url, *tcp, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telestream-cli: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	sh := &shell{c: c, out: os.Stdout, timeout: *timeout}

	if flag.NArg() > 0 {
		if err := sh.exec(strings.Join(flag.Args(), " ")); err != nil {
			fmt.Fprintf(os.Stderr, "telestream-cli: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		interactive(sh)
		return
	}
	lines(sh)
}

func connect(url, tcp string, timeout time.Duration) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := client.Options{DialTimeout: timeout}
	if tcp != "" {
		return client.DialTCP(ctx, tcp, opts)
	}
	return client.Dial(ctx, url, opts)
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit":
		return true
	}
	return false
}

func interactive(sh *shell) {
	fmt.Println("telestream shell. Type help for commands, exit to leave.")

	p := prompt.New(
		func(line string) {
			if isExit(line) {
				return
			}
			if err := sh.exec(line); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		},
		complete,
		prompt.OptionPrefix("telestream> "),
		prompt.OptionTitle("telestream-cli"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	s := make([]prompt.Suggest, 0, len(commands)+1)
	for _, c := range commands {
		s = append(s, prompt.Suggest{Text: c.name, Description: c.help})
	}
	s = append(s, prompt.Suggest{Text: "exit", Description: "leave the shell"})
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func lines(sh *shell) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if isExit(line) {
			return
		}
		if err := sh.exec(line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
