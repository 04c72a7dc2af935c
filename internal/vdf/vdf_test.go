package vdf

import (
	"bytes"
	"testing"

	"depotkit/internal/fault"
)

const sampleConfig = `"InstallConfigStore"
{
	"Software"
	{
		"valve"
		{
			"Steam"
			{
				"AutoUpdateWindowEnabled"		"0"
			}
			"depots"
			{
				"228990"
				{
					"DecryptionKey"		"ffffffff"
				}
			}
		}
	}
	"Music"
	{
		"CrawlSteamInstallFolders"		"1"
	}
}
`

func TestParseDumpStable(t *testing.T) {
	root, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first := root.Dump()
	reparsed, err := Parse(first)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !bytes.Equal(first, reparsed.Dump()) {
		t.Fatalf("dump not stable across round trip")
	}
}

func TestMergeKeepsSiblings(t *testing.T) {
	root, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := MergeDepotKeys(root, map[string]string{"456": "DEADBEEF"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	store, _ := root.Child("InstallConfigStore")
	software, _ := store.ChildFold("Software")
	valve, _ := software.ChildFold("Valve")
	depots, ok := valve.Child("depots")
	if !ok {
		t.Fatalf("depots section missing after merge")
	}
	added, ok := depots.Child("456")
	if !ok {
		t.Fatalf("merged depot missing")
	}
	if key, _ := added.String("DecryptionKey"); key != "DEADBEEF" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, ok := depots.Child("228990"); !ok {
		t.Fatalf("preexisting depot entry lost")
	}
	if _, ok := store.Child("Music"); !ok {
		t.Fatalf("unrelated sibling section lost")
	}
}

func TestMergeIdempotent(t *testing.T) {
	root, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	keys := map[string]string{"456": "DEADBEEF", "457": "CAFEBABE"}
	if err := MergeDepotKeys(root, keys); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	once := root.Dump()

	again, err := Parse(once)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if err := MergeDepotKeys(again, keys); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if !bytes.Equal(once, again.Dump()) {
		t.Fatalf("second merge of identical keys changed output")
	}
}

func TestMergeMissingRootLeavesDocumentAlone(t *testing.T) {
	root, err := Parse([]byte(`"SomethingElse"
{
	"a"		"b"
}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	before := root.Dump()
	err = MergeDepotKeys(root, map[string]string{"456": "DEADBEEF"})
	if err == nil {
		t.Fatalf("expected section-missing error")
	}
	if fault.KindOf(err) != fault.KindConfigSectionMissing {
		t.Fatalf("wrong kind: %v", fault.KindOf(err))
	}
	if !bytes.Equal(before, root.Dump()) {
		t.Fatalf("failed merge mutated document")
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		`"a" {`,
		`}`,
		`"a"`,
		`"unterminated`,
		`"a" { "b" }`,
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("input %q parsed without error", in)
		} else if fault.KindOf(err) != fault.KindMalformed {
			t.Fatalf("input %q: wrong kind %v", in, fault.KindOf(err))
		}
	}
}

func TestEscapesRoundTrip(t *testing.T) {
	root := NewObject()
	root.EnsureChild("InstallConfigStore").SetString("path", `C:\Games\"Steam"`)
	reparsed, err := Parse(root.Dump())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	store, _ := reparsed.Child("InstallConfigStore")
	if v, _ := store.String("path"); v != `C:\Games\"Steam"` {
		t.Fatalf("escape round trip lost data: %q", v)
	}
}
