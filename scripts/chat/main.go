// Command chat is a minimal interactive terminal client. Lines typed on
// stdin go to the server verbatim; everything the server sends is printed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "localhost:5555", "server address")
	name := flag.String("name", "", "join as a visitor with this name on connect")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if *name != "" {
		if _, err := fmt.Fprintf(conn, "VISITOR %s\n", *name); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Printf("<- %s\n", scanner.Text())
		}
		stop()
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
	return stdin.Err()
}
