package main

import "TrackHub/cmd"

func main() {
	cmd.Execute()
}
