// Command hashpw prints the bcrypt hash of a password, for seeding
// BUILDER_PASSWORD_HASH in the environment.
package main

import (
	"fmt"
	"os"

	"github.com/apfiles/apfiles/internal/security"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hashpw <password>")
		os.Exit(2)
	}

	hash, err := security.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
