package main

import "github.com/bryanchriswhite/PoseStreamer/cmd/posestreamer/commands"

func main() {
	commands.Execute()
}
