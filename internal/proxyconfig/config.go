// Package proxyconfig parses the proxy's three command-line flags the
// same way the source console_t constructor does: any unrecognized flag
// or malformed value falls back to the compiled-in defaults rather than
// aborting, after printing a usage line.
package proxyconfig

import (
	"flag"
	"fmt"
	"io"
)

// Defaults mirror the source console_t constructor's hard-coded values.
const (
	DefaultListenPort = 54321
	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 5432
)

// Config is the proxy's resolved runtime configuration.
type Config struct {
	ListenPort int
	ServerHost string
	ServerPort int
}

// Usage is printed whenever an argument fails to parse, matching the
// source's one-line usage banner.
const Usage = "usage: proxy -p <listening_port> -sh <server_host> -sp <server_port>\n"

// Parse reads args (typically os.Args[1:]) into a Config. Any flag.Parse
// failure — an unknown flag or a malformed value — is reported to out
// along with Usage, and parsing continues with every field at its
// default, matching the source proxy's "bad args leave defaults in
// place" behavior rather than exiting.
func Parse(args []string, out io.Writer) Config {
	cfg := Config{
		ListenPort: DefaultListenPort,
		ServerHost: DefaultServerHost,
		ServerPort: DefaultServerPort,
	}

	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("p", DefaultListenPort, "listening port")
	host := fs.String("sh", DefaultServerHost, "postgres server host")
	serverPort := fs.Int("sp", DefaultServerPort, "postgres server port")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(out, "bad command line option: %q\n", err)
		fmt.Fprint(out, Usage)
		return cfg
	}
	if *port <= 0 || *port > 65535 {
		fmt.Fprintf(out, "bad command line option: \"-p %d\"\n", *port)
		fmt.Fprint(out, Usage)
		return cfg
	}
	if *serverPort <= 0 || *serverPort > 65535 {
		fmt.Fprintf(out, "bad command line option: \"-sp %d\"\n", *serverPort)
		fmt.Fprint(out, Usage)
		return cfg
	}

	cfg.ListenPort = *port
	cfg.ServerHost = *host
	cfg.ServerPort = *serverPort
	return cfg
}

// String renders the "current parameters" banner the source console_t
// prints after parsing, regardless of whether parsing fell back to
// defaults.
func (c Config) String() string {
	return fmt.Sprintf(
		"current parameters:\nproxy listening port: %d\npostgres server host: %s\npostgres server port: %d\n",
		c.ListenPort, c.ServerHost, c.ServerPort)
}
