// Command easel-vet runs the repository's custom analyzers. Use it with
// "go vet -vettool=$(which easel-vet) ./...".
package main

import (
	"golang.org/x/tools/go/analysis/unitchecker"

	"github.com/andrew-d/easel/internal/analysis/ctxsleep"
)

func main() {
	unitchecker.Main(ctxsleep.Analyzer)
}
