package main

import (
	"os"

	"github.com/nuetzliches/brokeradmin/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
