package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Shared HS256 secret (defaults to JWT_SECRET)")
	id := flag.Int64("id", 0, "Recipient id")
	role := flag.String("role", "user", "Recipient role (user, provider, admin)")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	if *secret == "" || *id == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mktoken -secret <jwt-secret> -id <recipient-id> [-role user] [-ttl 1h]")
		os.Exit(1)
	}

	verifier := auth.NewVerifier(*secret)
	token, err := verifier.Sign(auth.Identity{ID: *id, Role: *role}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
