package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/saturnino-fabrica-de-software/shophook/internal/vault"
)

// Prints env lines for a fresh vault key and webhook secret.
//
//	genkey            both values
//	genkey key        ENCRYPTION_KEY only
//	genkey secret     WEBHOOK_SECRET only
func main() {
	which := ""
	if len(os.Args) > 1 {
		which = os.Args[1]
	}

	if which == "" || which == "key" {
		key, err := vault.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("ENCRYPTION_KEY=%s\n", key)
	}

	if which == "" || which == "secret" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Printf("WEBHOOK_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
	}
}
