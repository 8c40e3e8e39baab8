package main

import "github.com/surge-downloader/kadtable/cmd"

func main() {
	cmd.Execute()
}
