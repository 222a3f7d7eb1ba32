package main

import "github.com/andresmejia3/facelog/cmd"

func main() {
	cmd.Execute()
}
