package main

import (
	"log"

	"blobvault/cmd/bv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
