package flags

import "testing"

func TestParseFeatures(t *testing.T) {
	mask, err := ParseFeatures([]string{"file_activity", " Net_Activity "})
	if err != nil {
		t.Fatal(err)
	}
	if mask != FeatureFileActivity|FeatureNetActivity {
		t.Fatalf("mask = %v", mask)
	}

	if _, err := ParseFeatures([]string{"bogus"}); err == nil {
		t.Fatalf("expected error for unknown feature")
	}

	all, err := ParseFeatures([]string{"all"})
	if err != nil || all != AllFeatures {
		t.Fatalf("all = %v err = %v", all, err)
	}

	empty, err := ParseFeatures(nil)
	if err != nil || empty != 0 {
		t.Fatalf("empty = %v err = %v", empty, err)
	}
}

func TestParseOps(t *testing.T) {
	mask, err := ParseOps([]string{"open", "rename", "connect"})
	if err != nil {
		t.Fatal(err)
	}
	if mask != OpOpen|OpRename|OpConnect {
		t.Fatalf("mask = %v", mask)
	}

	if _, err := ParseOps([]string{"fork"}); err == nil {
		t.Fatalf("expected error for unknown op")
	}

	all, err := ParseOps([]string{"all"})
	if err != nil || all != AllOps {
		t.Fatalf("all = %v err = %v", all, err)
	}
}

func TestContains(t *testing.T) {
	f := FeatureFileActivity | FeatureAuxPayload
	if !f.Contains(FeatureFileActivity) || !f.Contains(0) {
		t.Fatalf("subset check failed")
	}
	if f.Contains(FeatureNetActivity) {
		t.Fatalf("superset check passed for missing bit")
	}

	o := OpOpen | OpWrite
	if !o.Contains(OpOpen|OpWrite) || o.Contains(OpUnlink) {
		t.Fatalf("op subset check failed")
	}
}

func TestStringAndOpName(t *testing.T) {
	if got := (FeatureFileActivity | FeatureNetActivity).String(); got != "file_activity|net_activity" {
		t.Fatalf("String() = %q", got)
	}
	if got := FeatureFlags(0).String(); got != "none" {
		t.Fatalf("zero String() = %q", got)
	}
	if got := OpName(OpMkdir); got != "mkdir" {
		t.Fatalf("OpName = %q", got)
	}
	if got := OpName(1 << 60); got != "op:0x1000000000000000" {
		t.Fatalf("unknown OpName = %q", got)
	}
}
