package main

import (
	"os"

	"github.com/TheGojiOG/sshbackup/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
