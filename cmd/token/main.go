// Command token mints access tokens for the chat gateway and back-office staff.
//
//	go run ./cmd/token -sub chat-gateway -roles gateway
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"settlement-service/internal/config"
	"settlement-service/internal/pkg/jwt"

	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("sub", "", "token subject, e.g. chat-gateway or a staff id")
	roles := flag.String("roles", "gateway", "comma separated roles: gateway, staff, admin")
	flag.Parse()

	if *subject == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()

	generator, err := jwt.LoadGenerator(cfg.JWT)
	if err != nil {
		log.Fatalf("failed to load signing key: %v", err)
	}

	var list []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}

	token, jti, err := generator.Generate(*subject, list)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "jti=%s expires_in=%s\n", jti, cfg.JWT.TTL)
	fmt.Println(token)
}
