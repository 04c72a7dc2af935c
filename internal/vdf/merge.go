package vdf

import (
	"sort"

	"depotkit/internal/fault"
)

// MergeDepotKeys deep-merges depot decryption keys into a parsed
// config.vdf under InstallConfigStore.Software.Valve.depots. The Valve
// section is matched case-insensitively. Existing unrelated depot entries
// are left alone; an existing entry for the same depot gets its key
// updated in place. When the expected root chain is missing the document
// is not modified.
func MergeDepotKeys(root *Object, keys map[string]string) error {
	store, ok := root.Child("InstallConfigStore")
	if !ok {
		return fault.New(fault.KindConfigSectionMissing, "VDF_MERGE: InstallConfigStore section not found")
	}
	software, ok := store.ChildFold("Software")
	if !ok {
		return fault.New(fault.KindConfigSectionMissing, "VDF_MERGE: Software section not found")
	}
	valve, ok := software.ChildFold("Valve")
	if !ok {
		return fault.New(fault.KindConfigSectionMissing, "VDF_MERGE: Valve section not found")
	}

	depots := valve.EnsureChild("depots")
	ids := make([]string, 0, len(keys))
	for id := range keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		depots.EnsureChild(id).SetString("DecryptionKey", keys[id])
	}
	return nil
}
