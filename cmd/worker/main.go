package main

import "github.com/ramiqadoumi/go-audit-jobs/services/worker/cli"

func main() {
	cli.Execute()
}
