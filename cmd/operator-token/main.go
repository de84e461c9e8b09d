package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pyramid-trading-bot/config"
	"pyramid-trading-bot/internal/auth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	operator := flag.String("operator", "", "operator name embedded in the token")
	role := flag.String("role", auth.RoleOperator, "token role: operator or viewer")
	ttl := flag.Duration("ttl", cfg.AuthConfig.AccessTokenDuration, "token lifetime")
	hash := flag.Bool("hash", false, "read a password from stdin and print an AUTH_OPERATORS entry")
	flag.Parse()

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "❌ -operator is required")
		os.Exit(2)
	}
	if *hash {
		printAccount(*operator, *role)
		return
	}
	if len(cfg.AuthConfig.JWTSecret) < 32 {
		fmt.Fprintln(os.Stderr, "❌ AUTH_JWT_SECRET must be set and at least 32 characters")
		os.Exit(1)
	}
	if *ttl <= 0 {
		*ttl = 24 * time.Hour
	}

	manager := auth.NewJWTManager(cfg.AuthConfig.JWTSecret, *ttl)
	token, err := manager.IssueToken(auth.OperatorClaims{Operator: *operator, Role: *role})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(token)
}

func printAccount(operator, role string) {
	if !auth.ValidRole(role) {
		fmt.Fprintf(os.Stderr, "❌ unknown role %q\n", role)
		os.Exit(2)
	}
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		fmt.Fprintf(os.Stderr, "❌ Failed to read password: %v\n", err)
		os.Exit(1)
	}
	hashed, err := auth.HashPassword(strings.TrimRight(password, "\r\n"), auth.DefaultBcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s:%s:%s\n", operator, role, hashed)
}
