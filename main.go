package main

import "github.com/seclens/vuln-triage/cmd"

func main() {
	cmd.Execute()
}
