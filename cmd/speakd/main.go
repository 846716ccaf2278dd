package main

import "github.com/speaknet/speakd/internal/cli"

func main() {
	cli.Execute()
}
