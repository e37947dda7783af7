// Command nexusc is a minimal smoke-test client speaking the Envelope wire
// protocol directly: login over the HTTPS surface, dial the TCP signaling
// port, then send one text Message envelope from the command line. It has no
// subcommands for Call or File envelopes.
//
// Grounded on the teacher's cli.go subcommand dispatch (RunCLI switching on
// os.Args[1]), adapted from an admin-over-sqlite CLI to a wire-protocol
// smoke-test client since this repo's signaling surface is TCP, not HTTP.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/commanderxa/nexus/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "login":
		cmdLogin(os.Args[2:])
	case "send":
		cmdSend(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  nexusc login <http-addr> <username> <password>")
	fmt.Fprintln(os.Stderr, "  nexusc send <tcp-addr> <token> <receiver-uuid> <text>")
}

func cmdLogin(args []string) {
	if len(args) != 3 {
		usage()
		os.Exit(1)
	}
	httpAddr, username, password := args[0], args[1], args[2]

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post("https://"+httpAddr+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "login request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "login rejected: %s\n", resp.Status)
		os.Exit(1)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "decode login response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out.Token)
}

func cmdSend(args []string) {
	if len(args) != 4 {
		usage()
		os.Exit(1)
	}
	tcpAddr, token, receiver, text := args[0], args[1], args[2], args[3]

	conn, err := net.DialTimeout("tcp", tcpAddr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Handshake: an empty Message envelope carrying only the token.
	handshake, _ := protocol.Encode(protocol.Envelope{Command: protocol.CommandMessage, Token: token})
	if _, err := conn.Write(append(handshake, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "handshake write failed: %v\n", err)
		os.Exit(1)
	}
	ackLine, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "handshake read failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "handshake: %s", ackLine)

	msg := protocol.MessageRequest{
		Message: protocol.Message{
			UUID:      randomID(),
			Content:   protocol.MessageContent{Text: text},
			Sides:     protocol.MessageSides{Sender: "", Receiver: receiver},
			CreatedAt: time.Now().Unix(),
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal message: %v\n", err)
		os.Exit(1)
	}

	env, err := protocol.Encode(protocol.Envelope{Command: protocol.CommandMessage, Body: body, Token: token})
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode envelope: %v\n", err)
		os.Exit(1)
	}
	if _, err := conn.Write(append(env, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("sent")
}

func randomID() string {
	return fmt.Sprintf("nexusc-%d", time.Now().UnixNano())
}
