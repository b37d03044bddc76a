package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

func secret() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		fmt.Printf("Failed to generate secret: %v\n", err)
		os.Exit(1)
	}
	return hex.EncodeToString(buf)
}

func main() {
	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("JWT_ACCESS_SECRET=%s\n", secret())
	fmt.Printf("JWT_REFRESH_SECRET=%s\n", secret())
	fmt.Printf("EMAIL_TOKEN_SECRET=%s\n", secret())
	fmt.Printf("INTERNAL_API_TOKEN=%s\n", secret())
	fmt.Println("--------------------------------")
}
