// Command wbemcli is a small WBEM query client.
//
// Password can be provided via:
//   - -pass flag (least secure, visible in process list)
//   - WBEM_PASSWORD environment variable (recommended)
//   - stdin prompt (if neither flag nor env var is set)
//
// Usage:
//
//	wbemcli -server <hostname> -user <username> -class <CIM class>
//
// Examples:
//
//	# Enumerate instances
//	export WBEM_PASSWORD='secret'
//	wbemcli -server cimom.example.com -user admin -class CIM_ComputerSystem
//
//	# Enumerate instance paths only
//	wbemcli -server cimom.example.com -user admin -class CIM_Process -names
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/smnsjas/go-wbem/client"
)

func main() {
	server := flag.String("server", "", "WBEM server hostname")
	username := flag.String("user", "", "Username for authentication")
	password := flag.String("pass", "", "Password (use WBEM_PASSWORD env var instead)")
	domain := flag.String("domain", "", "Domain for NTLM authentication")
	class := flag.String("class", "", "CIM class to enumerate")
	names := flag.Bool("names", false, "Enumerate instance paths instead of full instances")
	namespace := flag.String("namespace", "", "CIM namespace (default: root/cimv2)")
	useTLS := flag.Bool("tls", false, "Use HTTPS (port 5989)")
	port := flag.Int("port", 0, "WBEM port (default: 5988 for HTTP, 5989 for HTTPS)")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	caBundle := flag.String("cacert", "", "Path to a PEM CA bundle for server verification")
	timeout := flag.Duration("timeout", 120*time.Second, "Operation timeout")
	useNTLM := flag.Bool("ntlm", false, "Use NTLM authentication")
	pullMode := flag.String("pull", "auto", "Pull enumeration mode: auto, always, never")
	batchSize := flag.Uint("batch", 0, "Objects per pull batch (0 = default)")
	logLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (empty = no logging)")

	flag.Parse()

	if *server == "" {
		fmt.Fprintln(os.Stderr, "Error: -server is required")
		flag.Usage()
		os.Exit(1)
	}
	if *class == "" {
		fmt.Fprintln(os.Stderr, "Error: -class is required")
		flag.Usage()
		os.Exit(1)
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := client.DefaultConfig()
	cfg.Username = *username
	cfg.Password = getPassword(*password)
	cfg.Domain = *domain
	cfg.UseTLS = *useTLS
	cfg.InsecureSkipVerify = *insecure
	cfg.CABundle = *caBundle
	cfg.Timeout = *timeout
	if *namespace != "" {
		cfg.Namespace = *namespace
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *useNTLM {
		cfg.AuthType = client.AuthNTLM
	}
	if *batchSize > 0 {
		cfg.BatchSize = uint32(*batchSize)
	}

	switch strings.ToLower(*pullMode) {
	case "auto":
		cfg.PullPolicy = client.PullAuto
	case "always":
		cfg.PullPolicy = client.PullAlways
	case "never":
		cfg.PullPolicy = client.PullNever
	default:
		fmt.Fprintf(os.Stderr, "Invalid pull mode '%s'. Valid values: auto, always, never\n", *pullMode)
		os.Exit(1)
	}

	if *logLevel != "" {
		var level slog.Level
		switch strings.ToLower(*logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			fmt.Fprintf(os.Stderr, "Invalid log level '%s'. Valid values: debug, info, warn, error\n", *logLevel)
			os.Exit(1)
		}
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	conn, err := client.New(*server, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating connection: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *names {
		if err := printPaths(ctx, conn, *class); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := printInstances(ctx, conn, *class); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printInstances(ctx context.Context, conn *client.Connection, class string) error {
	it := conn.IterEnumerateInstances(class, nil)
	defer it.Close(ctx)

	count := 0
	for it.Next(ctx) {
		inst := it.Instance()
		count++
		fmt.Printf("%s\n", inst.ClassName)
		if inst.Path != nil {
			fmt.Printf("  path: %s\n", inst.Path.String())
		}
		for _, p := range inst.Properties {
			fmt.Printf("  %s = %s\n", p.Name, formatValue(p.Value))
		}
		fmt.Println()
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Printf("%d instance(s)\n", count)
	return nil
}

func printPaths(ctx context.Context, conn *client.Connection, class string) error {
	it := conn.IterEnumerateInstancePaths(class)
	defer it.Close(ctx)

	count := 0
	for it.Next(ctx) {
		count++
		fmt.Println(it.Path().String())
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Printf("%d path(s)\n", count)
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case []string:
		quoted := make([]string, len(val))
		for i, s := range val {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return "{" + strings.Join(quoted, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// getPassword returns password from flag, env var, or prompts for it.
func getPassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPass := os.Getenv("WBEM_PASSWORD"); envPass != "" {
		return envPass
	}

	fmt.Fprint(os.Stderr, "Password: ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	// Not a terminal (piped input): read line
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}
