package main

import "changelabel/internal/app"

func main() {
	app.Main()
}
