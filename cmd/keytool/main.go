// Command keytool encrypts a pumpportal API key into the file format read by
// copybot's pumpportal.encrypted_key_path setting.
//
//	COPYBOT_PUMPPORTAL_KEY_PASSWORD=... keytool -out key.json < apikey.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/copybot/internal/crypto"
)

func main() {
	out := flag.String("out", "pumpportal_key.json", "output path for the encrypted key")
	verify := flag.Bool("verify", false, "decrypt -out and report whether the password matches")
	flag.Parse()

	password := os.Getenv("COPYBOT_PUMPPORTAL_KEY_PASSWORD")
	if password == "" {
		fatalf("COPYBOT_PUMPPORTAL_KEY_PASSWORD must be set")
	}

	if *verify {
		data, err := os.ReadFile(*out)
		if err != nil {
			fatalf("read %s: %v", *out, err)
		}
		if _, err := crypto.DecryptSecret(data, password); err != nil {
			fatalf("verify %s: %v", *out, err)
		}
		fmt.Println("ok")
		return
	}

	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		fatalf("read key from stdin: %v", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		fatalf("empty key on stdin")
	}

	data, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fatalf("encrypt: %v", err)
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "keytool: "+format+"\n", args...)
	os.Exit(1)
}
