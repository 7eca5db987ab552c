// cmd/optoken/main.go
//
// Prints an operator token for the /api endpoints:
//
//	OPERATOR_JWT_SECRET=... go run ./cmd/optoken -sub alice -ttl 720h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"laddertrade/pkg/jwt"
)

func main() {
	sub := flag.String("sub", "operator", "operator name stored in the token subject")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("OPERATOR_JWT_SECRET")
	if secret == "" {
		log.Fatal("OPERATOR_JWT_SECRET is not set")
	}

	token, err := jwt.GenerateToken(secret, *sub, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
