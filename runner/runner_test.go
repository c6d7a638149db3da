package runner

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type runOutput struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, limits Limits, src string, opts ...Option) runOutput {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r := New(zaptest.NewLogger(t), limits, &stdout, &stderr, opts...)
	code := r.Run(context.Background(), src)
	return runOutput{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestRunPrintsResult(t *testing.T) {
	out := run(t, DefaultLimits(), "print(1+1)")
	assert.Equal(t, ExitOK, out.code)
	assert.Equal(t, "2\n", out.stdout)
	assert.Empty(t, out.stderr)
}

func TestRunIsDeterministic(t *testing.T) {
	src := `
d = {"b": 2, "a": 1, "c": 3}
for k in d:
    print(k, d[k])
print(sorted([3, 1, 2]), list(reversed(range(3))))
`
	first := run(t, DefaultLimits(), src)
	second := run(t, DefaultLimits(), src)
	require.Equal(t, ExitOK, first.code)
	assert.Equal(t, first, second)
	assert.Equal(t, "b 2\na 1\nc 3\n[1, 2, 3] [2, 1, 0]\n", first.stdout)
}

func TestRunRejectsNamesOutsideAllowList(t *testing.T) {
	for _, src := range []string{
		"__import__('os').system('id')",
		"open('/etc/passwd')",
		"exec('print(1)')",
		"eval('1')",
		"getattr(1, 'x')",
		"type(1)",
		"dir()",
	} {
		t.Run(src, func(t *testing.T) {
			out := run(t, DefaultLimits(), src)
			assert.Equal(t, ExitFault, out.code)
			assert.Contains(t, out.stderr, "undefined: ")
			assert.Empty(t, out.stdout)
		})
	}
}

func TestRunRejectsLoad(t *testing.T) {
	out := run(t, DefaultLimits(), `load("os.star", "system")`)
	assert.Equal(t, ExitFault, out.code)
	assert.NotEmpty(t, out.stderr)
}

func TestRunReportsProgramErrors(t *testing.T) {
	t.Run("RuntimeError", func(t *testing.T) {
		out := run(t, DefaultLimits(), "print('before')\nx = 1 // 0\n")
		assert.Equal(t, ExitFault, out.code)
		assert.Equal(t, "before\n", out.stdout)
		assert.Contains(t, out.stderr, "Traceback")
		assert.Contains(t, out.stderr, "division by zero")
	})

	t.Run("Fail", func(t *testing.T) {
		out := run(t, DefaultLimits(), `fail("bad input")`)
		assert.Equal(t, ExitFault, out.code)
		assert.Contains(t, out.stderr, "bad input")
	})

	t.Run("SyntaxError", func(t *testing.T) {
		out := run(t, DefaultLimits(), "def f(:\n")
		assert.Equal(t, ExitFault, out.code)
		assert.Contains(t, out.stderr, "SyntaxError")
	})
}

func TestRunTopLevelControlFlow(t *testing.T) {
	src := `
total = 0
i = 0
while i < 5:
    i += 1
    if i % 2 == 0:
        continue
    total += i
s = set([1, 2, 2])
print(total, len(s))
`
	out := run(t, DefaultLimits(), src)
	require.Equal(t, ExitOK, out.code, out.stderr)
	assert.Equal(t, "9 2\n", out.stdout)
}

func TestToolkitBuiltins(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"print(sum([1, 2, 3]))", "6"},
		{"print(sum([1.5, 2.5], 1))", "5.0"},
		{"print(sum([[1], [2]], []))", "[1, 2]"},
		{"print(round(2.5))", "2"},
		{"print(round(3.5))", "4"},
		{"print(round(7))", "7"},
		{"print(round(3.14159, 2))", "3.14"},
		{"print(map(lambda x: x * x, [1, 2, 3]))", "[1, 4, 9]"},
		{"print(filter(lambda x: x > 1, [1, 2, 3]))", "[2, 3]"},
		{"print(filter(None, [0, 1, '', 'a']))", `[1, "a"]`},
		{"print(abs(-3), min(4, 2), max([1, 9]), all([1, 0]), any([0, 1]))", "3 2 9 False True"},
		{"print(list(zip([1, 2], 'ab'.elems())), list(enumerate(['x'])))", `[(1, "a"), (2, "b")] [(0, "x")]`},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			out := run(t, DefaultLimits(), tt.src)
			require.Equal(t, ExitOK, out.code, out.stderr)
			assert.Equal(t, tt.want+"\n", out.stdout)
		})
	}
}

func TestToolkitErrors(t *testing.T) {
	for _, src := range []string{
		"sum([1, 'a'])",
		"round('x')",
		"map(1, [1])",
		"filter(1, [1])",
	} {
		t.Run(src, func(t *testing.T) {
			out := run(t, DefaultLimits(), src)
			assert.Equal(t, ExitFault, out.code)
			assert.NotEmpty(t, out.stderr)
		})
	}
}

func TestRunCPUTimeout(t *testing.T) {
	limits := DefaultLimits()
	limits.CPUTime = 100 * time.Millisecond

	var calls atomic.Int64
	fakeClock := func() (time.Duration, error) {
		// Each sample advances the clock by 60ms.
		return time.Duration(calls.Add(1)) * 60 * time.Millisecond, nil
	}

	var stdout, stderr bytes.Buffer
	r := New(zaptest.NewLogger(t), limits, &stdout, &stderr, WithPollInterval(5*time.Millisecond))
	r.cpuClock = fakeClock

	start := time.Now()
	code := r.Run(context.Background(), "while True:\n    pass\n")
	assert.Equal(t, ExitTimeout, code)
	assert.Equal(t, TimeoutMessage+"\n", stderr.String())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCPUTimeoutRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("burns CPU")
	}
	limits := DefaultLimits()
	limits.CPUTime = 300 * time.Millisecond

	out := run(t, limits, "x = 0\nwhile True:\n    x += 1\n", WithPollInterval(10*time.Millisecond))
	assert.Equal(t, ExitTimeout, out.code)
	assert.Contains(t, out.stderr, "TimeoutError")
}

func TestRunMemoryLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates heavily")
	}
	limits := DefaultLimits()
	limits.MemoryMB = 16

	src := `
x = []
for i in range(1000000):
    x.append("a" * 1000)
print("unreachable")
`
	out := run(t, limits, src, WithPollInterval(5*time.Millisecond))
	assert.Equal(t, ExitFault, out.code)
	assert.Equal(t, MemoryMessage+"\n", out.stderr)
	assert.Empty(t, out.stdout)
}

func TestRunOutputLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOutputBytes = 10

	out := run(t, limits, "for i in range(100):\n    print('abcd')\n")
	assert.Equal(t, ExitFault, out.code)
	assert.Equal(t, "abcd\nabcd\n", out.stdout)
	assert.Equal(t, OutputMessage+"\n", out.stderr)
}

func TestReadCode(t *testing.T) {
	code, err := ReadCode(strings.NewReader("print(1)"), 16)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)

	_, err = ReadCode(strings.NewReader(strings.Repeat("x", 17)), 16)
	require.Error(t, err)
}

func TestAllowListIsTheWholeEnvironment(t *testing.T) {
	env := capabilities()
	for name := range env {
		assert.Contains(t, AllowedNames, name)
	}
	assert.Len(t, env, len(AllowedNames)-len(universeConstants))
}
