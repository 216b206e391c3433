package ingest

import "testing"

func TestShouldParse_KernelOnlyNetfilterLines(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"netfilter line", "Jul 30 12:00:00 host kernel: [UFW BLOCK] IN=eth0 SRC=10.0.0.1 DST=10.0.0.2", true},
		{"unrelated kernel line", "Jul 30 12:00:00 host kernel: CPU0: Core temperature above threshold", false},
		{"non kernel line", "Jul 30 12:00:00 host anything: hello", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldParse("kernel", tc.raw); got != tc.want {
				t.Errorf("shouldParse(kernel, %q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestShouldParse_SyslogSkipsSSHDAndKernelOwnedLines(t *testing.T) {
	if shouldParse("syslog", "Jul 30 12:00:00 host sshd[1]: Failed password for root from 1.2.3.4") {
		t.Errorf("expected syslog to skip sshd-owned lines")
	}
	if shouldParse("messages", "Jul 30 12:00:00 host kernel: something") {
		t.Errorf("expected messages to skip kernel-owned lines")
	}
	if !shouldParse("syslog", "Jul 30 12:00:00 host sqlserver: login failed for user admin from 1.2.3.4") {
		t.Errorf("expected syslog to parse an unrelated security line")
	}
}

func TestShouldParse_AuthAndUFWAlwaysParse(t *testing.T) {
	if !shouldParse("auth", "anything") {
		t.Errorf("expected auth source to always attempt parsing")
	}
	if !shouldParse("ufw", "anything") {
		t.Errorf("expected ufw source to always attempt parsing")
	}
}
