package metrics

import "testing"

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordWrite("ns", "appended")
	c.RecordResolution("ns", "merge")
	c.RecordSync("origin", "fetch", "ok")
	if c.Registry() != nil {
		t.Error("nil collector returned a registry")
	}
}

func TestCollectorRegisters(t *testing.T) {
	c := NewCollector()
	c.RecordWrite("ns", "appended")
	c.RecordResolution("ns", "merge")
	c.RecordSync("origin", "fetch", "ok")

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{"ansuz_writes_total", "ansuz_merge_resolutions_total", "ansuz_syncs_total"} {
		if !seen[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}
