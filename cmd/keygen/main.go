// Command keygen prints a new FILE_ENCRYPTION_KEY, or checks one with -check.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/geocoder89/aegisapi/internal/filecrypt"
)

func main() {
	check := flag.String("check", "", "validate an existing base64 key instead of generating one")
	flag.Parse()

	if *check != "" {
		if !filecrypt.ValidateKey(*check) {
			fmt.Fprintln(os.Stderr, "invalid key: must be base64 of exactly 32 bytes")
			os.Exit(1)
		}
		fmt.Println("key ok")
		return
	}

	key, err := filecrypt.GenerateKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate key:", err)
		os.Exit(1)
	}
	fmt.Printf("FILE_ENCRYPTION_KEY=%s\n", key)
}
