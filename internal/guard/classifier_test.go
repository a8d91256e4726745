package guard

import (
	"errors"
	"testing"

	"github.com/boshu2/agentops-guard/internal/shell"
)

func TestClassifier_Classify(t *testing.T) {
	c := MustClassifier()
	tests := []struct {
		cmd  string
		want Category
		rule string
	}{
		// Catastrophic
		{"rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"rm -rf /*", Catastrophic, "recursive-delete-critical"},
		{"rm -fr ~", Catastrophic, "recursive-delete-critical"},
		{"rm -r -f ~/", Catastrophic, "recursive-delete-critical"},
		{"rm --recursive --force $HOME", Catastrophic, "recursive-delete-critical"},
		{"rm -rf ${HOME}/*", Catastrophic, "recursive-delete-critical"},
		{"rm -rf ~/../other", Catastrophic, "recursive-delete-critical"},
		{"rm -rf /etc", Catastrophic, "recursive-delete-critical"},
		{"rm -rf /usr/*", Catastrophic, "recursive-delete-critical"},
		{"sudo rm -rf //", Catastrophic, "recursive-delete-critical"},
		{"cd /tmp && rm -rf /", Catastrophic, "recursive-delete-critical"},
		{`bash -c "rm -rf /"`, Catastrophic, "recursive-delete-critical"},
		{"dd if=/dev/zero of=/dev/sda bs=1M", Catastrophic, "disk-wipe"},
		{"cat image.iso > /dev/nvme0n1", Catastrophic, "device-redirect"},
		{"mkfs.ext4 /dev/sdb1", Catastrophic, "filesystem-format"},
		{"wipefs -a /dev/sdb", Catastrophic, "filesystem-format"},
		{"chmod -R 777 /", Catastrophic, "recursive-chmod-root"},
		{"chown -R nobody /etc", Catastrophic, "recursive-chown-root"},
		{":(){ :|:& };:", Catastrophic, "fork-bomb"},
		{"timeout 60 rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"xargs rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"ls | xargs -0 sudo rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"ionice -c3 rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"stdbuf -oL rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"chrt -f 99 rm -rf /etc", Catastrophic, "recursive-delete-critical"},
		{"setsid unbuffer rm -rf ~", Catastrophic, "recursive-delete-critical"},
		{"watch -n 5 rm -rf /", Catastrophic, "recursive-delete-critical"},
		{"find / -delete", Catastrophic, "find-delete-critical"},
		{"find -L ~ -type f -delete", Catastrophic, "find-delete-critical"},
		{`find / -exec rm -rf {} \;`, Catastrophic, "find-delete-critical"},
		{"find /tmp -exec sudo rm -rf / +", Catastrophic, "find-delete-critical"},
		{"dd if=/dev/zero of=/dev/mapper/root", Catastrophic, "disk-wipe"},
		{"cat disk.img | sudo tee /dev/sda", Catastrophic, "device-write"},
		{"cp image.iso /dev/sdb", Catastrophic, "device-write"},
		{"cp -t /dev/sdb image.iso", Catastrophic, "device-write"},
		{"shred -n1 /dev/sda", Catastrophic, "device-write"},
		{"fdisk /dev/sda", Catastrophic, "device-write"},
		{"sfdisk /dev/nvme0n1 < layout.txt", Catastrophic, "device-write"},
		{"parted /dev/sda mklabel gpt", Catastrophic, "device-write"},
		{"pv -o /dev/sdc disk.img", Catastrophic, "device-write"},
		{"echo hi >/dev/sda", Catastrophic, "device-redirect"},
		{"bomb(){ bomb|bomb& };bomb", Catastrophic, "fork-bomb"},

		// Git-sensitive
		{"git commit -m x", GitSensitive, "git-gated"},
		{"git -C ../repo branch -D old", GitSensitive, "git-gated"},
		{"git worktree remove --force wt", GitSensitive, "git-gated"},
		{"git push --force", GitSensitive, "git-gated"},
		{"ls && git add -A", GitSensitive, "git-gated"},

		// Benign
		{"ls -la", Benign, ""},
		{"git status", Benign, ""},
		{"git log --oneline", Benign, ""},
		{"rm -rf ./build", Benign, ""},
		{"rm -rf /tmp/scratch", Benign, ""},
		{"rm -r /", Benign, ""},
		{"dd if=/dev/zero of=/dev/null", Benign, ""},
		{"echo rm -rf / > notes.txt", Benign, ""},
		{"chmod 755 /usr/local/bin/tool", Benign, ""},
		{"timeout 60 make test", Benign, ""},
		{"find . -name '*.o' -delete", Benign, ""},
		{"find /tmp/build -delete", Benign, ""},
		{"find / -name core -print", Benign, ""},
		{"find ./ -exec rm -rf {} +", Benign, ""},
		{"cp /dev/sda backup.img", Benign, ""},
		{"fdisk -l /dev/sda", Benign, ""},
		{"sfdisk -d /dev/sda > table.txt", Benign, ""},
		{"shred secret.txt", Benign, ""},
		{"cmd | tee build.log", Benign, ""},
		{"", Benign, ""},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := c.Classify(shell.Parse(tt.cmd))
			if got.Category != tt.want {
				t.Errorf("Classify(%q) = %s (%s), want %s", tt.cmd, got.Category, got.Rule, tt.want)
			}
			if got.Rule != tt.rule {
				t.Errorf("Classify(%q).Rule = %q, want %q", tt.cmd, got.Rule, tt.rule)
			}
		})
	}
}

func TestClassifier_MalformedStillEvaluated(t *testing.T) {
	c := MustClassifier()

	got := c.Classify(shell.Parse(`rm -rf / "unterminated`))
	if got.Category != Catastrophic {
		t.Errorf("malformed rm -rf / = %s, want catastrophic", got.Category)
	}

	got = c.Classify(shell.Parse(`git commit -m "oops`))
	if got.Category != GitSensitive {
		t.Errorf("malformed git commit = %s, want git-sensitive", got.Category)
	}
}

func TestClassifier_CustomPatterns(t *testing.T) {
	c, err := NewClassifier([]string{`terraform\s+destroy`})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	got := c.Classify(shell.Parse("cd infra && terraform destroy -auto-approve"))
	if got.Category != Catastrophic || got.Rule != "custom-1" {
		t.Errorf("custom pattern = %s/%s, want catastrophic/custom-1", got.Category, got.Rule)
	}

	// Custom catastrophic rules are evaluated before the git-sensitive tail.
	rules := c.Rules()
	if last := rules[len(rules)-1]; last.Category != GitSensitive {
		t.Errorf("last rule = %s (%s), want git-sensitive", last.Name, last.Category)
	}

	if _, err := NewClassifier([]string{"("}); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("bad pattern err = %v, want ErrInvalidPattern", err)
	}
}

func TestIsCriticalTarget(t *testing.T) {
	critical := []string{"/", "/*", "~", "~/", "~/*", "$HOME", "${HOME}", "/etc/", "/var", "/Users", "/home/*", "$HOME/../x"}
	for _, arg := range critical {
		if !isCriticalTarget(arg) {
			t.Errorf("isCriticalTarget(%q) = false, want true", arg)
		}
	}
	safe := []string{"", "build", "./", "~/project", "/home/me/project", "/var/tmp/x", "~/..cache", "/etcetera"}
	for _, arg := range safe {
		if isCriticalTarget(arg) {
			t.Errorf("isCriticalTarget(%q) = true, want false", arg)
		}
	}
}
