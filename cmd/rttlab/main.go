package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/rttlab/internal/cli"
)

func main() {
	_ = godotenv.Load()
	os.Exit(int(cli.Run()))
}
