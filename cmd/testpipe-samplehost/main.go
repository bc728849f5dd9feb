// Package main is a sample test executable speaking the pipe protocol.
// It gives testpipe something real to discover, run and partition.
//
// Usage:
//
//	testpipe run --shard-count 2 testpipe-samplehost
//
// Setting TESTPIPE_SAMPLE_CRASH makes the host exit mid-run with that
// code, which testpipe reports as a synthetic partition failure.
// TESTPIPE_SAMPLE_FAIL makes Sample.Strings.Reverse fail.
package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/testpipe/testhost"
	"github.com/pithecene-io/testpipe/types"
)

const (
	crashEnv = "TESTPIPE_SAMPLE_CRASH"
	failEnv  = "TESTPIPE_SAMPLE_FAIL"
)

func main() {
	h := &testhost.Host{
		Cases: cases(),
		Options: []types.CommandLineOption{
			{Name: "--seed", Description: "Seed for randomized cases"},
		},
	}
	h.Main()
}

func cases() []testhost.Case {
	fast := []types.Trait{{Key: "Category", Value: types.StrPtr("Fast")}}
	return []testhost.Case{
		{
			UID: "Sample.Math.Adds", Namespace: "Sample", TypeName: "Math", MethodName: "Adds",
			Traits: fast,
			Run: func(t *testhost.T) {
				if got := 2 + 2; got != 4 {
					t.Errorf("2 + 2 = %d", got)
				}
			},
		},
		{
			UID: "Sample.Math.Divides", Namespace: "Sample", TypeName: "Math", MethodName: "Divides",
			Traits: fast,
			Run: func(t *testhost.T) {
				n, err := strconv.Atoi("12")
				if err != nil {
					t.Errorf("parse: %v", err)
					return
				}
				t.Logf("12 / 4 = %d", n/4)
			},
		},
		{
			UID: "Sample.Strings.Reverse", Namespace: "Sample", TypeName: "Strings", MethodName: "Reverse",
			Run: func(t *testhost.T) {
				want := "olleh"
				if os.Getenv(failEnv) != "" {
					want = "hello"
				}
				if got := reverse("hello"); got != want {
					t.Errorf("reverse(hello) = %q, want %q", got, want)
				}
			},
		},
		{
			UID: "Sample.Strings.Fields", Namespace: "Sample", TypeName: "Strings", MethodName: "Fields",
			Run: func(t *testhost.T) {
				if code := os.Getenv(crashEnv); code != "" {
					n, _ := strconv.Atoi(code)
					os.Exit(n)
				}
				if got := len(strings.Fields(" a b  c ")); got != 3 {
					t.Errorf("fields = %d, want 3", got)
				}
			},
		},
		{
			UID: "Sample.Platform.WindowsOnly", Namespace: "Sample", TypeName: "Platform", MethodName: "WindowsOnly",
			Run: func(t *testhost.T) {
				if os.PathSeparator != '\\' {
					t.Skip("requires Windows")
				}
			},
		},
		{
			UID: "Sample.Slow.Sleeps", Namespace: "Sample", TypeName: "Slow", MethodName: "Sleeps",
			Timeout: 5 * time.Second,
			Run: func(t *testhost.T) {
				select {
				case <-time.After(50 * time.Millisecond):
				case <-t.Context().Done():
				}
				t.Stderrf("slept")
			},
		},
	}
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
