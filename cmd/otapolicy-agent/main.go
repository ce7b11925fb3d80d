package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/otapolicy/cmd/otapolicy-agent/app"
)

func main() {
	app.NewApp().Run()
}
