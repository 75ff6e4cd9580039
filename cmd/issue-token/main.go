package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	jwtpkg "mailaudit/backend/internal/auth/jwt"
	"mailaudit/backend/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: issue-token <subject> [scope,scope...] [ttl]")
		fmt.Printf("Scopes: %s\n", strings.Join(jwtpkg.AllScopes, ", "))
		os.Exit(1)
	}

	subject := os.Args[1]
	scopes := jwtpkg.AllScopes
	if len(os.Args) >= 3 && os.Args[2] != "" {
		scopes = strings.Split(os.Args[2], ",")
	}

	var ttl time.Duration
	if len(os.Args) >= 4 {
		d, err := time.ParseDuration(os.Args[3])
		if err != nil {
			fmt.Printf("Invalid ttl %q: %v\n", os.Args[3], err)
			os.Exit(1)
		}
		ttl = d
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	token, err := manager.GenerateToken(subject, scopes, ttl)
	if err != nil {
		fmt.Printf("Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Token issued")
	fmt.Printf("Subject:    %s\n", subject)
	fmt.Printf("Scopes:     %s\n", strings.Join(scopes, ", "))
	fmt.Printf("Expires at: %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println(token.AccessToken)
}
