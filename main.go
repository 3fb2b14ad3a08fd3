package main

import "github.com/Landlord-Docs/landlord-backend/cmd"

func main() {
	cmd.Init()
}
