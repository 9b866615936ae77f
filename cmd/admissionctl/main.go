package main

import (
	"github.com/deploymenttheory/go-api-admission-scheduler/cmd/admissionctl/cmd"
)

func main() {
	cmd.Execute()
}
