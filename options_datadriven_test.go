package riegeli

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

func TestParseOptionsDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/options", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "parse":
			opts, err := ParseOptions(strings.TrimSpace(td.Input))
			if err != nil {
				return fmt.Sprintf("error: %s", err)
			}
			return fmt.Sprintf("compression=%s:%d window_log=%d chunk_size=%d parallelism=%d transpose=%t",
				opts.Compression.Type, opts.Compression.Level, opts.Compression.WindowLog, opts.ChunkSize, opts.Parallelism, opts.Transpose)
		default:
			td.Fatalf(t, "unknown command %q", td.Cmd)
			return ""
		}
	})
}
