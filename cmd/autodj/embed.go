package main

import (
	"embed"
	"io/fs"

	"github.com/lazypower/autodj/internal/server"
)

// Deck console served at / with its assets under /static.
//
//go:embed ui/index.html ui/static
var console embed.FS

func init() {
	ui, err := fs.Sub(console, "ui")
	if err != nil {
		panic(err)
	}
	server.SetUI(ui)
}
