package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/hpcomplexio/mission-control/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
