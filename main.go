package main

import (
	_ "github.com/tonimelisma/vdrive/internal/remote/memory"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
