package classify_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/console/classify"
)

func TestClassify(t *testing.T) {
	c := classify.New(nil)
	cases := []struct {
		name string
		raw  wire.RawAction
		want classify.Kind
	}{
		{"execute read-only", wire.RawAction{Type: "execute", ServerID: "s1", Command: "uptime -p"}, classify.Executable},
		{"execute df", wire.RawAction{Type: "execute", ServerID: "s1", Command: "df -h /"}, classify.Executable},
		{"confirm tag", wire.RawAction{Type: "confirm", ServerID: "s1", Command: "apt-get upgrade -y"}, classify.Confirmable},
		{"info tag", wire.RawAction{Type: "info", ServerID: "s1", Command: "rm -rf /tmp/x"}, classify.Informational},
		{"no command", wire.RawAction{Type: "execute", ServerID: "s1"}, classify.Informational},
		{"whitespace command", wire.RawAction{Type: "confirm", ServerID: "s1", Command: "   "}, classify.Informational},
		{"execute but destructive", wire.RawAction{Type: "execute", ServerID: "s1", Command: "systemctl restart nginx"}, classify.Confirmable},
		{"execute chained rm", wire.RawAction{Type: "execute", ServerID: "s1", Command: "cd /var/log && rm -f *.gz"}, classify.Confirmable},
		{"execute reboot with sudo", wire.RawAction{Type: "execute", ServerID: "s1", Command: "sudo reboot"}, classify.Confirmable},
		{"systemctl status is safe", wire.RawAction{Type: "execute", ServerID: "s1", Command: "systemctl status nginx"}, classify.Executable},
		{"upper-case type", wire.RawAction{Type: "EXECUTE", ServerID: "s1", Command: "free -m"}, classify.Executable},
		{"unknown type defaults to executable", wire.RawAction{Type: "run", ServerID: "s1", Command: "hostname"}, classify.Executable},
		{"unknown type still guarded", wire.RawAction{Type: "run", ServerID: "s1", Command: "killall nginx"}, classify.Confirmable},
		{"get_metrics without command", wire.RawAction{Type: "get_metrics", ServerID: "s1"}, classify.Informational},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.raw)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%+v) = %s, want %s", tc.raw, got.Kind, tc.want)
			}
			if got.Kind == classify.Confirmable && len(got.Reasons) == 0 {
				t.Errorf("confirmable action has no reasons")
			}
		})
	}
}

func TestClassify_UnknownTypesConfirmable(t *testing.T) {
	c := classify.New(nil, classify.WithUnknownTypes(classify.Confirmable))
	if got := c.Classify(wire.RawAction{Type: "run", ServerID: "s1", Command: "hostname"}); got.Kind != classify.Confirmable {
		t.Fatalf("got %s, want confirmable", got.Kind)
	}
	if got := c.Classify(wire.RawAction{Type: "execute", ServerID: "s1", Command: "hostname"}); got.Kind != classify.Executable {
		t.Fatalf("explicit execute changed: %s", got.Kind)
	}
}

// No destructive command ever classifies as Executable, whatever its tag.
func TestClassify_DestructiveNeverExecutable(t *testing.T) {
	c := classify.New(nil)
	commands := []string{
		"rm -rf /", "rmdir /data", "mkfs.ext4 /dev/sdb1", "dd if=/dev/zero of=/dev/sda",
		"shutdown -h now", "reboot", "halt", "poweroff", "kill -9 1", "killall java",
		"systemctl stop nginx", "systemctl restart sshd", "service nginx stop",
		"fdisk /dev/sda", "mkswap /dev/sdb2", "parted /dev/sda rm 1", "lvremove vg/lv",
		"vgremove vg0", "pvremove /dev/sdc", "echo x > /dev/sda", "crontab -r",
	}
	for _, typ := range []string{"execute", "confirm", "", "whatever"} {
		for _, cmd := range commands {
			got := c.Classify(wire.RawAction{Type: typ, ServerID: "s1", Command: cmd})
			if got.Kind == classify.Executable {
				t.Errorf("type %q command %q classified executable", typ, cmd)
			}
		}
	}
}

func TestLoadRulePolicy(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	replace := write("replace.yaml", `
rules:
  destructive:
    - pattern: '\bdocker\s+system\s+prune\b'
      message: prunes docker data
`)
	p, err := classify.LoadRulePolicy(replace)
	if err != nil {
		t.Fatalf("LoadRulePolicy: %v", err)
	}
	if ok, reasons := p.Destructive("docker system prune -af"); !ok || reasons[0] != "prunes docker data" {
		t.Fatalf("custom rule not applied: %v %v", ok, reasons)
	}
	if ok, _ := p.Destructive("reboot"); ok {
		t.Fatal("replacement policy should not include defaults")
	}

	extend := write("extend.yaml", `
rules:
  extend_defaults: true
  destructive:
    - pattern: '\bdocker\s+system\s+prune\b'
      message: prunes docker data
`)
	p, err = classify.LoadRulePolicy(extend)
	if err != nil {
		t.Fatalf("LoadRulePolicy: %v", err)
	}
	if ok, _ := p.Destructive("reboot"); !ok {
		t.Fatal("extending policy lost the defaults")
	}

	empty := write("empty.yaml", "rules: {}\n")
	p, err = classify.LoadRulePolicy(empty)
	if err != nil {
		t.Fatalf("LoadRulePolicy: %v", err)
	}
	if ok, _ := p.Destructive("rm -rf /"); !ok {
		t.Fatal("empty policy file should fall back to defaults")
	}

	bad := write("bad.yaml", "rules:\n  destructive:\n    - pattern: '(['\n")
	if _, err := classify.LoadRulePolicy(bad); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}
