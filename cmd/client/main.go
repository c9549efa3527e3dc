// Command bitdb-cli is a thin TCP client for the daemon's line
// protocol, usable for manual testing without a full Redis-style
// client library.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  bitdb-cli get <key>\n")
	fmt.Fprintf(os.Stderr, "  bitdb-cli put <key> <value>\n")
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("bitdb-cli", flag.ExitOnError)
	addr := fs.StringP("addr", "a", "127.0.0.1:25225", "daemon address")
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) < 2 {
		usage()
	}

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *addr, err)
	}
	defer conn.Close() // nolint:errcheck

	switch args[0] {
	case "get":
		if len(args) != 2 {
			usage()
		}
		if err := runGet(conn, args[1]); err != nil {
			log.Fatalf("get failed: %v", err)
		}

	case "put":
		if len(args) != 3 {
			usage()
		}
		if err := runPut(conn, args[1], args[2]); err != nil {
			log.Fatalf("put failed: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", args[0])
		usage()
	}
}

func runGet(conn net.Conn, key string) error {
	if _, err := fmt.Fprintf(conn, "GET %s\r\n", key); err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	status = strings.TrimRight(status, "\r\n")

	switch {
	case status == "-KEYNOTFOUND" || status == "-NOKEY":
		fmt.Println("(not found)")
		return nil
	case strings.HasPrefix(status, "+OK "):
		fields := strings.Fields(status)
		if len(fields) < 2 {
			return fmt.Errorf("malformed response: %q", status)
		}
		size, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("malformed length in response: %q", status)
		}
		val := make([]byte, size)
		if _, err := io.ReadFull(r, val); err != nil {
			return err
		}
		fmt.Println(string(val))
		return nil
	default:
		return fmt.Errorf("unexpected response: %q", status)
	}
}

func runPut(conn net.Conn, key, value string) error {
	if _, err := fmt.Fprintf(conn, "PUT %s %d\r\n%s", key, len(value), value); err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	status = strings.TrimRight(status, "\r\n")

	if status != "+OK" {
		return fmt.Errorf("daemon returned %q", status)
	}
	fmt.Println("done")
	return nil
}
