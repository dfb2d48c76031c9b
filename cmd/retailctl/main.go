// retailctl drives the retail store stack: preview, deploy, inspect and tear
// down, without needing the pulumi CLI on the PATH for day-to-day use.
package main

func main() {
	Execute()
}
