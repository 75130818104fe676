// Package enginetest provides fake database engine executables for tests.
//
// The default script accepts the same argv as the real engine
// (`<db> [extra...] -c <sql>`) and reacts to markers in the SQL text:
//
//	FAIL      write an error to stderr and exit 1
//	SLEEP     sleep 5 seconds
//	NAP       sleep 0.3 seconds, then print 1
//	NOINT     print a result header without any integer value
//	ROWS=<n>  print a boxed single-cell result containing n
//
// Anything else prints 1. When ENGINETEST_LOG is set every SQL string is
// appended to that file, one per line.
package enginetest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Script is the default fake engine.
const Script = `#!/bin/sh
while [ "$#" -gt 0 ] && [ "$1" != "-c" ]; do shift; done
sql="$2"
if [ -n "$ENGINETEST_LOG" ]; then
  printf '%s\n' "$sql" | tr '\n' ' ' >> "$ENGINETEST_LOG"
  echo >> "$ENGINETEST_LOG"
fi
case "$sql" in
  *FAIL*)
    echo "Error: simulated failure" >&2
    exit 1
    ;;
  *SLEEP*)
    sleep 5
    ;;
  *NAP*)
    sleep 0.3
    echo 1
    ;;
  *NOINT*)
    echo "count_star()"
    echo "int64"
    ;;
  *ROWS=*)
    n=${sql#*ROWS=}
    n=${n%%[!0-9,]*}
    echo "┌──────────────┐"
    echo "│ count_star() │"
    echo "│    int64     │"
    echo "├──────────────┤"
    echo "│ $n │"
    echo "└──────────────┘"
    ;;
  *)
    echo 1
    ;;
esac
`

// RequireUnix skips the test on platforms without /bin/sh.
func RequireUnix(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engines need /bin/sh")
	}
}

// Write stores body as an executable script in a temporary directory and
// returns its path.
func Write(t testing.TB, name, body string) string {
	t.Helper()
	RequireUnix(t)
	path := filepath.Join(t.TempDir(), name)
	if !strings.HasPrefix(body, "#!") {
		body = "#!/bin/sh\n" + body
	}
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("enginetest: write %s: %v", path, err)
	}
	return path
}

// Engine writes the default fake engine and returns its path.
func Engine(t testing.TB) string {
	t.Helper()
	return Write(t, "fake-engine", Script)
}

// LogInvocations points ENGINETEST_LOG at a fresh file and returns a function
// reading back the logged SQL statements.
func LogInvocations(t *testing.T) func() []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invocations.log")
	t.Setenv("ENGINETEST_LOG", path)
	return func() []string {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			t.Fatalf("enginetest: read log: %v", err)
		}
		var out []string
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	}
}
