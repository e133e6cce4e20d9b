package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdp/qrterminal/v3"

	"github.com/Thrinadh-25/MeshIt/pkg/api"
	"github.com/Thrinadh-25/MeshIt/pkg/channel"
	"github.com/Thrinadh-25/MeshIt/pkg/identity"
	"github.com/Thrinadh-25/MeshIt/pkg/network"
	"github.com/Thrinadh-25/MeshIt/pkg/node"
)

const defaultDataDir = "./data"

var (
	dataDir  = flag.String("data", defaultDataDir, "Data directory")
	nickname = flag.String("nick", "", "Nickname (persisted)")
	listen   = flag.String("listen", "", "TCP listen address, e.g. :9650")
	connect  = flag.String("connect", "", "Comma-separated peer addresses to dial")
	apiPort  = flag.Int("api", 0, "Status API port (0 = disabled)")
)

func main() {
	flag.Parse()

	n, err := node.New(node.Config{
		DataDir:  *dataDir,
		Nickname: *nickname,
		Dialer:   network.TCPDialer{},
	})
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	n.OnDirectMessage = func(fromFP, text string) {
		fmt.Printf("\r[%.8s] %s\n> ", fromFP, text)
	}
	n.OnChannelMessage = func(channelName, fromNick, text string) {
		fmt.Printf("\r%s <%s> %s\n> ", channelName, fromNick, text)
	}
	n.OnFileReceived = func(name string, content []byte) {
		path := name + ".received"
		if err := os.WriteFile(path, content, 0600); err != nil {
			fmt.Printf("\rfile %s received but not saved: %v\n> ", name, err)
			return
		}
		fmt.Printf("\rfile received: %s (%d bytes) -> %s\n> ", name, len(content), path)
	}
	n.OnPeerConnected = func(fp, nick string) {
		fmt.Printf("\rpeer connected: %s (%.8s)\n> ", nick, fp)
	}
	n.OnPeerDisconnected = func(fp string) {
		fmt.Printf("\rpeer disconnected: %.8s\n> ", fp)
	}

	n.Start()
	defer n.Stop()

	fmt.Printf("MeshIt node %s (%s)\n", n.Identity.ShortFingerprint(), n.Settings.Nickname)

	if *listen != "" {
		ln, err := net.Listen("tcp", *listen)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", *listen, err)
		}
		go network.Listen(ln, n.Manager().RegisterIncoming)
		defer ln.Close()
		fmt.Printf("listening on %s\n", *listen)
	}

	for _, addr := range splitList(*connect) {
		if err := n.ConnectTo(addr); err != nil {
			log.Printf("connect %s failed: %v", addr, err)
		}
	}

	var apiServer *api.Server
	if *apiPort > 0 {
		apiServer = api.NewServer(n)
		if err := apiServer.Start(*apiPort); err != nil {
			log.Fatalf("Failed to start status API: %v", err)
		}
		defer apiServer.Stop()
		fmt.Printf("status API on :%d\n", *apiPort)
	}

	go commandLoop(n)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down")
}

func commandLoop(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		handleLine(n, scanner.Text())
		fmt.Print("> ")
	}
}

func handleLine(n *node.Node, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if line == "/link" {
		uri := n.Identity.VerificationURI()
		fmt.Println(uri)
		qrterminal.GenerateHalfBlock(uri, qrterminal.L, os.Stdout)
		return
	}
	if uri, ok := strings.CutPrefix(line, "/verify "); ok {
		fp, nick, err := identity.ParseVerificationURI(strings.TrimSpace(uri))
		if err != nil {
			fmt.Println("verify failed:", err)
			return
		}
		if err := n.Trust.Verify(fp); err != nil {
			fmt.Println("verify failed:", err)
			return
		}
		fmt.Printf("verified %s (%.8s)\n", nick, fp)
		return
	}

	cmd, isCmd := channel.ParseCommand(line)
	if !isCmd {
		// Bare text goes to the first joined channel.
		joined := n.JoinedChannels()
		if len(joined) == 0 {
			fmt.Println("join a channel first (/join #name) or use /msg")
			return
		}
		if err := n.SendChannelMessage(joined[0], line); err != nil {
			fmt.Println("send failed:", err)
		}
		return
	}
	if !cmd.Handled {
		fmt.Printf("unknown command /%s (try /help)\n", cmd.Name)
		return
	}

	switch cmd.Name {
	case "join":
		if cmd.Channel == "" {
			fmt.Println("usage: /join <channel> [password]")
			return
		}
		if err := n.Channels().Join(cmd.Channel, cmd.Text); err != nil {
			fmt.Println("join failed:", err)
			return
		}
		fmt.Println("joined", cmd.Channel)

	case "leave":
		if err := n.Channels().Leave(cmd.Channel); err != nil {
			fmt.Println("leave failed:", err)
			return
		}
		fmt.Println("left", cmd.Channel)

	case "channels":
		fmt.Println("joined:   ", strings.Join(n.JoinedChannels(), " "))
		fmt.Println("available:", strings.Join(n.AvailableChannels(), " "))

	case "who":
		name := cmd.Channel
		if name == "" {
			joined := n.JoinedChannels()
			if len(joined) == 0 {
				fmt.Println("not in any channel")
				return
			}
			name = joined[0]
		}
		for fp, nick := range n.Channels().Members(name) {
			fmt.Printf("  %s (%.8s)\n", nick, fp)
		}

	case "msg":
		if cmd.Target == "" || cmd.Text == "" {
			fmt.Println("usage: /msg <fingerprint-prefix> <text>")
			return
		}
		fp := resolvePeer(n, cmd.Target)
		if fp == "" {
			fmt.Println("no peer matches", cmd.Target)
			return
		}
		if err := n.SendPrivate(fp, cmd.Text); err != nil {
			fmt.Println("send failed:", err)
		}

	case "help":
		fmt.Println(channel.HelpText)
		fmt.Println("/link                       show verification link and QR")
		fmt.Println("/verify <meshit://...>      mark a scanned identity as verified")
	}
}

// resolvePeer matches a fingerprint prefix against known peers.
func resolvePeer(n *node.Node, prefix string) string {
	prefix = strings.ToLower(prefix)
	for _, fp := range n.DirectPeers() {
		if strings.HasPrefix(fp, prefix) {
			return fp
		}
	}
	if len(prefix) == 64 {
		return prefix // full fingerprint of an offline peer
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
