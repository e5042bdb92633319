package main

import (
	"context"

	"undoengine/cmd/undoengine/app"
)

func main() {
	app.MustExecute(context.Background())
}
