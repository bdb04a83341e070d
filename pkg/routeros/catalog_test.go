package routeros

import "testing"

func TestRenderSSHRejectsShellMetacharacters(t *testing.T) {
	entry := Catalog[OpIPDNSSet]
	_, err := RenderSSH(entry, map[string]string{"servers": "8.8.8.8; rm -rf /"})
	if err == nil {
		t.Fatal("expected RenderSSH to reject a parameter containing shell metacharacters")
	}
}

func TestRenderSSHMissingParam(t *testing.T) {
	entry := Catalog[OpIPAddressAdd]
	_, err := RenderSSH(entry, map[string]string{"address": "10.0.0.1/24"})
	if err == nil {
		t.Fatal("expected RenderSSH to reject a missing required parameter")
	}
}

func TestRenderSSHHappyPath(t *testing.T) {
	entry := Catalog[OpIPAddressAdd]
	cmd, err := RenderSSH(entry, map[string]string{"address": "10.0.0.1/24", "interface": "ether1"})
	if err != nil {
		t.Fatalf("RenderSSH: %v", err)
	}
	want := "/ip address add address=10.0.0.1/24 interface=ether1"
	if cmd != want {
		t.Fatalf("got %q, want %q", cmd, want)
	}
}

func TestCatalogEveryOpHasRESTAndSSHMapping(t *testing.T) {
	for op, entry := range Catalog {
		if entry.RESTMethod == "" || entry.SSHCommand == "" {
			t.Errorf("op %q missing REST or SSH mapping", op)
		}
	}
}
