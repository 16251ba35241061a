package main

import (
	"flag"
	"fmt"
	jwtPkg "optifocus/pkg/jwt"
	"optifocus/pkg/log"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
)

// Issues an operator access token for the measurement history endpoints.
func main() {
	logger := log.NewLogger()
	_ = godotenv.Load()

	id := flag.String("id", "", "operator ID (random ULID when empty)")
	username := flag.String("username", "operator", "operator username")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *id == "" {
		*id = ulid.Make().String()
	}

	token, expiredAt, err := jwtPkg.Sign(map[string]interface{}{
		"id":       *id,
		"username": *username,
	}, *ttl)
	if err != nil {
		logger.Fatalf("Failed to sign token: %v", err)
	}

	logger.Infof("Token for %s expires at %s", *username, time.Unix(expiredAt, 0).Format(time.RFC3339))
	fmt.Println(token)
}
