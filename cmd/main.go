package main

import (
	cmd "github.com/lanyeeee/picacomic-downloader/cmd/picacomic"
)

func main() {
	cmd.Execute()
}
