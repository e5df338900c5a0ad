/*
Copyright © 2024 Dean
*/
package main

import "docchat/cmd"

func main() {
	cmd.Execute()
}
