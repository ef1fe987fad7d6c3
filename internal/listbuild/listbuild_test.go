package listbuild_test

import (
	"context"
	"testing"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/listbuild"
	"github.com/paddock-dev/paddock/testutil"
)

// fakeBinary writes a small shell script that plays the listing
// protocol: prints terse lines on --list, or exits nonzero when told to.
func fakeBinary(t *testing.T, body string) string {
	return testutil.ScriptFile(t, body)
}

func TestBuild_ParsesTerseOutput(t *testing.T) {
	path := fakeBinary(t, `
case "$*" in
  *--ignored*) echo "ignored_case: test" ;;
  *) printf 'alpha: test\nbeta: test\n' ;;
esac
`)
	specs := []listbuild.BinarySpec{{ID: "pkg", Path: path, BuildPlatform: catalog.Target}}
	cat, err := listbuild.Build(context.Background(), specs, listbuild.Options{Platform: catalog.Target, Ignored: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	suite := cat.ByID("pkg")
	if suite == nil {
		t.Fatal("suite pkg not found")
	}
	if suite.Status != catalog.StatusListed {
		t.Fatalf("Status = %v, want Listed", suite.Status)
	}
	names := make(map[string]bool)
	for _, c := range suite.Cases {
		names[c.Name] = c.Ignored
	}
	if names["alpha"] != false || names["beta"] != false {
		t.Errorf("expected alpha/beta non-ignored, got %v", names)
	}
	if _, ok := names["ignored_case"]; !ok {
		t.Errorf("expected ignored_case to be present, got %v", names)
	}
}

func TestBuild_PlatformMismatchSkipsWithoutInvoking(t *testing.T) {
	// The script would fail the test if ever invoked.
	path := fakeBinary(t, `exit 77`)
	specs := []listbuild.BinarySpec{{ID: "host-only", Path: path, BuildPlatform: catalog.Host}}
	cat, err := listbuild.Build(context.Background(), specs, listbuild.Options{Platform: catalog.Target})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	suite := cat.ByID("host-only")
	if suite.Status != catalog.StatusSkipped || suite.SkipReason != catalog.SkipReasonPlatformMismatch {
		t.Errorf("suite = %+v, want Skipped{PlatformMismatch}", suite)
	}
}

func TestBuild_NonZeroExitFailsWithCapturedDetail(t *testing.T) {
	path := fakeBinary(t, `echo "boom" 1>&2; exit 2`)
	specs := []listbuild.BinarySpec{{ID: "broken", Path: path, BuildPlatform: catalog.Target}}
	_, err := listbuild.Build(context.Background(), specs, listbuild.Options{Platform: catalog.Target})
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	for _, want := range []string{"broken", "boom", "exit=2"} {
		if !contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestBuild_UnparseableLineFailsListing(t *testing.T) {
	path := fakeBinary(t, `echo "this is not a terse line"`)
	specs := []listbuild.BinarySpec{{ID: "weird", Path: path, BuildPlatform: catalog.Target}}
	_, err := listbuild.Build(context.Background(), specs, listbuild.Options{Platform: catalog.Target})
	if err == nil {
		t.Fatal("expected an error for unparseable output")
	}
}

func TestBuild_ConcurrentAcrossMultipleBinaries(t *testing.T) {
	path := fakeBinary(t, `printf 't1: test\n'`)
	specs := []listbuild.BinarySpec{
		{ID: "a", Path: path, BuildPlatform: catalog.Target},
		{ID: "b", Path: path, BuildPlatform: catalog.Target},
		{ID: "c", Path: path, BuildPlatform: catalog.Target},
	}
	cat, err := listbuild.Build(context.Background(), specs, listbuild.Options{Concurrency: 2, Platform: catalog.Target})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(cat.Suites) != 3 {
		t.Fatalf("len(Suites) = %d, want 3", len(cat.Suites))
	}
	for _, id := range []catalog.BinaryId{"a", "b", "c"} {
		if s := cat.ByID(id); s == nil || len(s.Cases) != 1 {
			t.Errorf("suite %s missing or wrong case count", id)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (substr == "" || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
