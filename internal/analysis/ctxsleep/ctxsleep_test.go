package ctxsleep_test

import (
	"testing"

	"golang.org/x/tools/go/analysis/analysistest"

	"github.com/andrew-d/easel/internal/analysis/ctxsleep"
)

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), ctxsleep.Analyzer, "a")
}
