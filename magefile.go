//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
var Default = Build

// Build compiles the nwquant command into ./bin
func Build() error {
	mg.Deps(Vet)
	fmt.Println("Building nwquant executable...")
	return goCmd("build", "-o", "./bin/nwquant", "./cmd/nwquant")
}

// Test runs the unit tests; the HDF5 export needs cgo
func Test() error {
	fmt.Println("Running tests...")
	return goCmd("test", "./...")
}

// Short runs the tests that skip slow integration paths
func Short() error {
	return goCmd("test", "-short", "./...")
}

func Vet() error {
	fmt.Println("Running go vet...")
	return goCmd("vet", "./...")
}

func goCmd(args ...string) error {
	ldflags := os.Getenv("CGO_LDFLAGS")
	cflags := os.Getenv("CGO_CFLAGS")
	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=1",
		fmt.Sprintf("CGO_LDFLAGS=%s", ldflags),
		fmt.Sprintf("CGO_CFLAGS=%s", cflags))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
