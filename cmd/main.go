package main

import (
	"os"

	"notary-chat/cmd/app"
)

var version = "dev"

func main() {
	if err := app.Execute(version); err != nil {
		os.Exit(1)
	}
}
