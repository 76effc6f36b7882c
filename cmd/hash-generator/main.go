// Command hash-generator prints bcrypt hashes of secrets for
// auth.preshared_hashes and for provisioning API clients. Secrets are read
// from the arguments, or one per line from stdin when none are given.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phrazzld/redaction-api/internal/service/auth"
)

func main() {
	cost := flag.Int("cost", 0, "bcrypt cost (0 uses the default)")
	flag.Parse()

	if err := run(flag.Args(), os.Stdin, os.Stdout, *cost); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, out io.Writer, cost int) error {
	secrets := args
	if len(secrets) == 0 {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				secrets = append(secrets, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read secrets: %w", err)
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no secrets given")
	}

	for _, secret := range secrets {
		hash, err := auth.HashSecret(secret, cost)
		if err != nil {
			return fmt.Errorf("failed to hash secret: %w", err)
		}
		if _, err := fmt.Fprintln(out, hash); err != nil {
			return err
		}
	}
	return nil
}
