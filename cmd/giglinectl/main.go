package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/gigline/internal/client"
	"github.com/matheus3301/gigline/internal/profile"
	"github.com/spf13/pflag"
)

func main() {
	profileFlag := pflag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := pflag.Bool("json", false, "output in JSON format")
	passwordFlag := pflag.String("password", "", "password for login (read from stdin when empty)")
	limitFlag := pflag.Int("limit", 50, "number of messages to show")
	timeoutFlag := pflag.Duration("timeout", 30*time.Second, "request timeout")
	pflag.Usage = printUsage
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "profiles" {
		cmdProfiles(name, *jsonFlag)
		return
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ns := ""
		if len(args) > 1 {
			ns = args[1]
		}
		cmdWatch(ctx, c, ns, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "login":
		requireArgs(args, 2, "giglinectl login <email>")
		cmdLogin(ctx, c, args[1], *passwordFlag, *jsonFlag)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "connect":
		resp, err := c.Connect(ctx)
		check(err)
		fmt.Printf("Channel: %s\n", resp.Channel)
	case "disconnect":
		check(c.Disconnect(ctx))
		fmt.Println("Disconnected.")
	case "contacts":
		cmdContacts(ctx, c, *jsonFlag)
	case "messages":
		requireArgs(args, 2, "giglinectl messages <peer-id>")
		cmdMessages(ctx, c, args[1], *limitFlag, *jsonFlag)
	case "send":
		requireArgs(args, 3, "giglinectl send <peer-id> <text>")
		msg, err := c.SendMessage(ctx, args[1], strings.Join(args[2:], " "))
		check(err)
		if *jsonFlag {
			outputJSON(msg)
			return
		}
		fmt.Printf("Queued %s (%s)\n", msg.ClientID, msg.Status)
	case "open":
		requireArgs(args, 2, "giglinectl open <peer-id>")
		resp, err := c.SetActiveContact(ctx, args[1])
		check(err)
		if resp.HistoryError != "" {
			fmt.Fprintf(os.Stderr, "warning: history not loaded: %s\n", resp.HistoryError)
		}
		cmdMessages(ctx, c, args[1], *limitFlag, *jsonFlag)
	case "typing":
		requireArgs(args, 2, "giglinectl typing <peer-id>")
		check(c.SendTyping(ctx, args[1]))
	case "history":
		requireArgs(args, 2, "giglinectl history <peer-id>")
		n, err := c.LoadHistory(ctx, args[1])
		check(err)
		fmt.Printf("Loaded %d new messages.\n", n)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: giglinectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show session and channel status")
	fmt.Fprintln(os.Stderr, "  login <email>          Log in (password via --password or stdin)")
	fmt.Fprintln(os.Stderr, "  logout                 Log out and clear local state")
	fmt.Fprintln(os.Stderr, "  connect                Open the messaging channel")
	fmt.Fprintln(os.Stderr, "  disconnect             Close the messaging channel")
	fmt.Fprintln(os.Stderr, "  contacts               List conversations")
	fmt.Fprintln(os.Stderr, "  messages <peer>        Show a conversation")
	fmt.Fprintln(os.Stderr, "  send <peer> <text>     Send a message")
	fmt.Fprintln(os.Stderr, "  open <peer>            Make a conversation active")
	fmt.Fprintln(os.Stderr, "  typing <peer>          Send a typing indicator")
	fmt.Fprintln(os.Stderr, "  history <peer>         Fetch conversation history")
	fmt.Fprintln(os.Stderr, "  watch [namespace]      Stream daemon events")
	fmt.Fprintln(os.Stderr, "  profiles               List local profiles")
	fmt.Fprintln(os.Stderr, "")
	pflag.PrintDefaults()
}

func cmdProfiles(active string, jsonOut bool) {
	names, err := profile.List()
	check(err)
	if jsonOut {
		outputJSON(names)
		return
	}
	if len(names) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, n := range names {
		marker := " "
		if n == active {
			marker = "*"
		}
		running := "stopped"
		if _, err := os.Stat(profile.SocketPath(n)); err == nil {
			running = "running"
		}
		fmt.Printf("%s %-20s %s\n", marker, n, running)
	}
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile:  %s\n", st.Profile)
	if st.LoggedIn {
		fmt.Printf("User:     %s (%s)\n", st.Email, st.UserID)
		fmt.Printf("Token:    %s\n", st.Fingerprint)
		if st.ExpiresAtUnixMs > 0 {
			fmt.Printf("Expires:  %s\n", time.UnixMilli(st.ExpiresAtUnixMs).Format(time.RFC3339))
		}
	} else {
		fmt.Println("User:     not logged in")
	}
	fmt.Printf("Channel:  %s\n", st.Channel)
	if st.ChannelError != "" {
		fmt.Printf("Error:    %s\n", st.ChannelError)
	}
	if st.Terminated {
		fmt.Printf("Session terminated: %s\n", st.TerminationReason)
	}
	fmt.Printf("Uptime:   %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).String())
}

func cmdLogin(ctx context.Context, c *client.Client, email, password string, jsonOut bool) {
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fail(fmt.Errorf("read password: %w", err))
		}
		password = strings.TrimRight(line, "\r\n")
	}
	resp, err := c.Login(ctx, email, password)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Logged in as %s (%s)\n", resp.Email, resp.UserID)
	if resp.ConnectError != "" {
		fmt.Fprintf(os.Stderr, "warning: channel not open: %s\n", resp.ConnectError)
	}
}

func cmdContacts(ctx context.Context, c *client.Client, jsonOut bool) {
	contacts, err := c.ListContacts(ctx)
	check(err)
	if jsonOut {
		outputJSON(contacts)
		return
	}
	if len(contacts) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, ct := range contacts {
		name := ct.DisplayName
		if name == "" {
			name = ct.ID
		}
		flags := ""
		if ct.Typing {
			flags = " typing..."
		}
		fmt.Printf("%-8s %-24s %3d unread  %s%s\n", ct.ID, name, ct.UnreadCount, ct.LastMessagePreview, flags)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, peerID string, limit int, jsonOut bool) {
	msgs, err := c.ListMessages(ctx, peerID, limit)
	check(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		ts := time.UnixMilli(m.SentAtUnixMs).Format("2006-01-02 15:04")
		line := fmt.Sprintf("[%s] %s: %s", ts, m.SenderID, m.Content)
		if m.Status == "pending" || m.Status == "failed" {
			line += " (" + m.Status + ")"
		}
		fmt.Println(line)
	}
}

func cmdWatch(ctx context.Context, c *client.Client, namespace string, jsonOut bool) {
	events, streamErr, err := c.WatchEvents(ctx, namespace)
	check(err)
	for env := range events {
		if jsonOut {
			outputJSON(env)
			continue
		}
		ts := time.UnixMilli(env.OccurredAtUnixMs).Format(time.TimeOnly)
		fmt.Printf("%s %-32s %s\n", ts, env.Kind, env.Payload)
	}
	check(streamErr())
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
