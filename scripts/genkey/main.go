// genkey generates an operator API key and its Argon2id hash.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Prints the plaintext key once (hand it to the operator) and the hash
// to put in SELFHEAL_API_KEY_HASH. The server never stores the
// plaintext.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/auth"
)

func main() {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}
	apiKey := "shk_" + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (save it now, it is not stored anywhere):\n  %s\n\n", apiKey)
	fmt.Printf("Add to the server environment:\n  SELFHEAL_API_KEY_HASH='%s'\n", hash)
}
