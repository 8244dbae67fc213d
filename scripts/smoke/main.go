// Command smoke runs a quick end-to-end conversation against a running
// server: register, login, create a channel, post a message, and print every
// line the server sends back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	if err := run(); err != nil {
		log.Printf("smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:5555", "server address")
	user := flag.String("user", "smoketester", "username to register and log in with")
	pass := flag.String("pass", "smokepass", "credential")
	channel := flag.String("channel", "smoke test", "channel name to create")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(*timeout))

	r := bufio.NewReader(conn)
	send := func(line string) error {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("send %q: %w", line, err)
		}
		return nil
	}
	recv := func() (string, error) {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		line = strings.TrimRight(line, "\n")
		fmt.Printf("<- %s\n", line)
		return line, nil
	}

	if err := send("REGISTER " + *user + " " + *pass); err != nil {
		return err
	}
	if _, err := recv(); err != nil {
		return err
	}

	if err := send("LOGIN " + *user + " " + *pass); err != nil {
		return err
	}
	reply, err := recv()
	if err != nil {
		return err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "LOGIN_SUCCESS" {
		return fmt.Errorf("login rejected: %s", reply)
	}
	id := fields[1]

	if err := send("CREATE_CHANNEL " + id + " " + *channel); err != nil {
		return err
	}
	reply, err = recv()
	if err != nil {
		return err
	}
	fields = strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "CHANNEL_CREATED" {
		return fmt.Errorf("create rejected: %s", reply)
	}
	cid := fields[1]

	if err := send("SEND_MESSAGE " + id + " " + cid + " " + *text); err != nil {
		return err
	}
	// MESSAGE_SENT plus our own broadcast copy.
	for i := 0; i < 2; i++ {
		if _, err := recv(); err != nil {
			return err
		}
	}

	fmt.Println("smoke test passed")
	return nil
}
