// Package interactive provides the interactive command-line interface
// for the lagan client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/lagan-protocol/lagan-go/pkg/client"
	"github.com/lagan-protocol/lagan-go/pkg/inspect"
	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// REPL handles interactive mode for lagan-client.
type REPL struct {
	client    *client.Client
	rl        *readline.Instance
	formatter *inspect.Formatter

	pubs map[string]*client.Publisher
	subs map[string]*client.Subscriber
	// watch toggles printing of incoming subscription updates.
	watch bool
}

// New creates a new interactive handler around a connected client.
func New(c *client.Client) (*REPL, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lagan> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &REPL{
		client:    c,
		rl:        rl,
		formatter: inspect.NewFormatter(),
		pubs:      make(map[string]*client.Publisher),
		subs:      make(map[string]*client.Subscriber),
		watch:     true,
	}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (r *REPL) Stdout() io.Writer {
	return r.rl.Stdout()
}

// Run starts the interactive command loop.
func (r *REPL) Run(ctx context.Context, cancel context.CancelFunc) {
	defer r.rl.Close()

	r.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(r.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			r.printHelp()

		case "topics", "ls":
			r.cmdTopics()

		case "get", "g":
			r.cmdGet(args)

		case "pub":
			r.cmdPub(args)

		case "set", "s":
			r.cmdSet(args)

		case "unpub":
			r.cmdUnpub(args)

		case "sub":
			r.cmdSub(args)

		case "unsub":
			r.cmdUnsub(args)

		case "props":
			r.cmdProps(args)

		case "rpc":
			r.cmdRPC(args)

		case "watch":
			r.watch = !r.watch
			fmt.Fprintf(r.rl.Stdout(), "watch %s\n", onOff(r.watch))

		case "status":
			r.cmdStatus()

		case "quit", "exit", "q":
			cancel()
			return

		default:
			fmt.Fprintf(r.rl.Stdout(), "Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func (r *REPL) printHelp() {
	out := r.rl.Stdout()
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  topics                      - List known topics")
	fmt.Fprintln(out, "  get <name>                  - Show a topic's cached value")
	fmt.Fprintln(out, "  pub <name> <type>           - Publish a topic (boolean, double, int, string, ...)")
	fmt.Fprintln(out, "  set <name> <value>          - Write a value to a published topic")
	fmt.Fprintln(out, "  unpub <name>                - Retract a publisher")
	fmt.Fprintln(out, "  sub <prefix>                - Subscribe to a name prefix")
	fmt.Fprintln(out, "  unsub <prefix>              - Cancel a subscription")
	fmt.Fprintln(out, "  props <name> <key> <bool>   - Set a boolean topic property")
	fmt.Fprintln(out, "  rpc <name> [params]         - Execute a remote procedure (v3 only)")
	fmt.Fprintln(out, "  watch                       - Toggle printing of incoming updates")
	fmt.Fprintln(out, "  status                      - Show connection status")
	fmt.Fprintln(out, "  quit                        - Exit")
}

func (r *REPL) cmdTopics() {
	topics := r.client.Topics()
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })

	out := r.rl.Stdout()
	if len(topics) == 0 {
		fmt.Fprintln(out, "No topics")
		return
	}
	for _, info := range topics {
		fmt.Fprintf(out, "  %s\n", r.formatter.FormatTopic(info))
	}
}

func (r *REPL) cmdGet(args []string) {
	out := r.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: get <name>")
		return
	}
	name := args[0]

	info, ok := r.client.Topic(name)
	if !ok {
		fmt.Fprintf(out, "Unknown topic: %s\n", name)
		return
	}
	v, ok := r.client.Value(name)
	if !ok {
		fmt.Fprintf(out, "%s (%s): no cached value\n", name, info.Type)
		return
	}
	fmt.Fprintf(out, "%s (%s) = %s @ %dus\n", name, info.Type, r.formatter.FormatValue(v), int64(v.Time))
}

func (r *REPL) cmdPub(args []string) {
	out := r.rl.Stdout()
	if len(args) != 2 {
		fmt.Fprintln(out, "Usage: pub <name> <type>")
		return
	}
	name, typeStr := args[0], args[1]

	typ, ok := nt.TypeFromString(typeStr)
	if !ok {
		fmt.Fprintf(out, "Unknown type: %s\n", typeStr)
		return
	}

	pub, err := r.client.Publish(name, typ, nil)
	if err != nil {
		fmt.Fprintf(out, "Publish failed: %v\n", err)
		return
	}
	r.pubs[name] = pub
	fmt.Fprintf(out, "Publishing %s as %s\n", name, typ)
}

func (r *REPL) cmdSet(args []string) {
	out := r.rl.Stdout()
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: set <name> <value>")
		return
	}
	name := args[0]
	raw := strings.Join(args[1:], " ")

	pub, ok := r.pubs[name]
	if !ok {
		fmt.Fprintf(out, "Not publishing %s (use 'pub' first)\n", name)
		return
	}

	value, err := inspect.ParseValue(pub.Type(), raw)
	if err != nil {
		fmt.Fprintf(out, "Bad value: %v\n", err)
		return
	}
	if err := pub.Set(value); err != nil {
		fmt.Fprintf(out, "Set failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s = %s\n", name, r.formatter.FormatValue(value))
}

func (r *REPL) cmdUnpub(args []string) {
	out := r.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: unpub <name>")
		return
	}
	name := args[0]

	pub, ok := r.pubs[name]
	if !ok {
		fmt.Fprintf(out, "Not publishing %s\n", name)
		return
	}
	delete(r.pubs, name)
	if err := pub.Unpublish(); err != nil {
		fmt.Fprintf(out, "Unpublish failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Unpublished %s\n", name)
}

func (r *REPL) cmdSub(args []string) {
	out := r.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: sub <prefix>")
		return
	}
	prefix := args[0]

	if _, ok := r.subs[prefix]; ok {
		fmt.Fprintf(out, "Already subscribed to %s\n", prefix)
		return
	}

	sub, err := r.client.Subscribe([]string{prefix}, nt.SubscribeOptions{Prefix: true}, func(u client.Update) {
		if r.watch {
			fmt.Fprintf(r.rl.Stdout(), "[%s] = %s\n", u.Name, r.formatter.FormatValue(u.Value))
		}
	})
	if err != nil {
		fmt.Fprintf(out, "Subscribe failed: %v\n", err)
		return
	}
	r.subs[prefix] = sub
	fmt.Fprintf(out, "Subscribed to %s*\n", prefix)
}

func (r *REPL) cmdUnsub(args []string) {
	out := r.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: unsub <prefix>")
		return
	}
	prefix := args[0]

	sub, ok := r.subs[prefix]
	if !ok {
		fmt.Fprintf(out, "Not subscribed to %s\n", prefix)
		return
	}
	delete(r.subs, prefix)
	if err := sub.Unsubscribe(); err != nil {
		fmt.Fprintf(out, "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Unsubscribed from %s*\n", prefix)
}

func (r *REPL) cmdProps(args []string) {
	out := r.rl.Stdout()
	if len(args) != 3 {
		fmt.Fprintln(out, "Usage: props <name> <key> <true|false>")
		return
	}
	name, key := args[0], args[1]
	val, err := strconv.ParseBool(args[2])
	if err != nil {
		fmt.Fprintf(out, "Bad boolean: %s\n", args[2])
		return
	}

	if err := r.client.SetProperties(name, nt.Properties{key: val}); err != nil {
		fmt.Fprintf(out, "SetProperties failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s: %s=%t\n", name, key, val)
}

func (r *REPL) cmdRPC(args []string) {
	out := r.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: rpc <name> [params]")
		return
	}
	name := args[0]
	var params []byte
	if len(args) > 1 {
		params = []byte(strings.Join(args[1:], " "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := r.client.CallRPC(ctx, name, params)
	if err != nil {
		fmt.Fprintf(out, "RPC failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Result: %q\n", result)
}

func (r *REPL) cmdStatus() {
	out := r.rl.Stdout()
	state := "disconnected"
	if r.client.Connected() {
		state = "connected"
	}
	fmt.Fprintf(out, "Connection: %s\n", state)
	fmt.Fprintf(out, "Topics:     %d\n", len(r.client.Topics()))
	fmt.Fprintf(out, "Publishers: %d\n", len(r.pubs))
	fmt.Fprintf(out, "Time:       %dus\n", int64(r.client.Clock().Now()))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
