package main

import (
	"go.uber.org/fx"

	"github.com/rl1809/reseller/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
