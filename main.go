package main

import "github.com/ridoystarlord/dbdocsync/cmd"

func main() {
	cmd.Execute()
}
