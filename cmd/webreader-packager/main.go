// Command webreader-packager builds the distributable .xpi of the web reader extension.
package main

import "github.com/CerolBrisingr/comic-sidebar/cmd/webreader-packager/cmd"

func main() {
	cmd.Execute()
}
