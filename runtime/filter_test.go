package runtime

import (
	"testing"

	"github.com/pithecene-io/testpipe/types"
)

func treeTest(ns, typ, method string, traits ...types.Trait) types.DiscoveredTest {
	return types.DiscoveredTest{
		UID:        ns + "." + typ + "." + method,
		Namespace:  types.StrPtr(ns),
		TypeName:   types.StrPtr(typ),
		MethodName: types.StrPtr(method),
		Traits:     traits,
	}
}

func TestTreeFilter_Match(t *testing.T) {
	slow := types.Trait{Key: "Category", Value: types.StrPtr("Slow")}
	flaky := types.Trait{Key: "Flaky"}
	tests := []struct {
		expr string
		test types.DiscoveredTest
		want bool
	}{
		{"/App/Calc/Add", treeTest("App", "Calc", "Add"), true},
		{"/App/Calc/Sub", treeTest("App", "Calc", "Add"), false},
		{"/App/*/Add", treeTest("App", "Calc", "Add"), true},
		{"/App/Ca*/A?d", treeTest("App", "Calc", "Add"), true},
		{"/**", treeTest("App", "Calc", "Add"), true},
		{"/**/Add", treeTest("App", "Calc", "Add"), true},
		{"/App/**", treeTest("App", "Calc", "Add"), true},
		{"/App/**/Calc/Add", treeTest("App", "Calc", "Add"), true},
		{"/Other/**", treeTest("App", "Calc", "Add"), false},
		{"/App/Calc", treeTest("App", "Calc", "Add"), false},
		{"/App/Calc/Add/Extra", treeTest("App", "Calc", "Add"), false},
		{"/**/*[Category=Slow]", treeTest("App", "Calc", "Add", slow), true},
		{"/**/*[Category=Fast]", treeTest("App", "Calc", "Add", slow), false},
		{"/**/*[Flaky]", treeTest("App", "Calc", "Add", flaky), true},
		{"/**/*[Flaky]", treeTest("App", "Calc", "Add", slow), false},
		{"/**/*[Category=Slow][Flaky]", treeTest("App", "Calc", "Add", slow, flaky), true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseTreeFilter(tt.expr)
			if err != nil {
				t.Fatalf("ParseTreeFilter(%q) failed: %v", tt.expr, err)
			}
			if got := f.Match(tt.test); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", tt.test.UID, got, tt.want)
			}
		})
	}
}

func TestParseTreeFilter_Errors(t *testing.T) {
	for _, expr := range []string{
		"App/Calc",
		"/App//Add",
		"/App/[",
		"/App/Add[Category",
		"/App/Add[=x]",
		"/App/Add[a]junk",
	} {
		if _, err := ParseTreeFilter(expr); err == nil {
			t.Errorf("ParseTreeFilter(%q) should fail", expr)
		}
	}
}

func TestTreePath_DisplayNameFallback(t *testing.T) {
	got := TreePath(types.DiscoveredTest{UID: "x", DisplayName: "Shown"})
	if len(got) != 1 || got[0] != "Shown" {
		t.Errorf("TreePath = %q", got)
	}
}

func TestFilter_PreservesOrder(t *testing.T) {
	tests := discovered("a", "b", "c", "d")
	got := Filter(tests, func(t types.DiscoveredTest) bool { return t.UID != "b" })
	if len(got) != 3 || got[0].UID != "a" || got[1].UID != "c" || got[2].UID != "d" {
		t.Errorf("Filter = %v", types.UIDs(got))
	}
	if len(Filter(tests, nil)) != 4 {
		t.Error("nil predicate should keep everything")
	}
}
