package main

import "github.com/tbourn/go-post-scheduler/internal/cli"

func main() {
	cli.Execute()
}
