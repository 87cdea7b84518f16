package main

import "github.com/tooboredtocode/jwt-forward-auth/internal/cli"

func main() {
	cli.Execute()
}
