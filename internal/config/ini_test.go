package config

import (
	"strings"
	"testing"
)

func TestDecodeINIBasic(t *testing.T) {
	data := `
; pool for the billing service group
[daemon]
num_workers = 4        ; four children
loglevel = warn
logfile = /var/log/herd.log

[worker]
command = "/usr/bin/billing-sync --batch"
memory_limit = 128MB
`
	cfg, warnings, err := decodeINI([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	if cfg.Daemon.NumWorkers != 4 {
		t.Errorf("num_workers = %d, want 4", cfg.Daemon.NumWorkers)
	}
	if cfg.Daemon.Logfile != "/var/log/herd.log" {
		t.Errorf("logfile = %q", cfg.Daemon.Logfile)
	}
	if cfg.Worker.Command != "/usr/bin/billing-sync --batch" {
		t.Errorf("command = %q", cfg.Worker.Command)
	}
	if cfg.Worker.MemoryLimit != "128MB" {
		t.Errorf("memory_limit = %q", cfg.Worker.MemoryLimit)
	}
}

func TestDecodeINIUnknownSectionAndKey(t *testing.T) {
	data := "[daemon]\nshoe_size = 44\n[extras]\nfoo = bar\n"
	_, warnings, err := decodeINI([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", warnings)
	}
	if !strings.Contains(warnings[0], "daemon.shoe_size") {
		t.Errorf("warning[0] = %q", warnings[0])
	}
	if !strings.Contains(warnings[1], "extras") {
		t.Errorf("warning[1] = %q", warnings[1])
	}
}

func TestDecodeINIErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"key outside section", "num_workers = 1\n"},
		{"bare word", "[daemon]\nnonsense\n"},
		{"bad integer", "[daemon]\nnum_workers = many\n"},
		{"bad float", "[worker]\nloop_interval = fast\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeINI([]byte(tt.data)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestStripInlineComment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"key = value ; comment", "key = value "},
		{`key = "semi;colon" ; comment`, `key = "semi;colon" `},
		{"key = 'a;b'", "key = 'a;b'"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := stripInlineComment(tt.in); got != tt.want {
			t.Errorf("stripInlineComment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"1024", 1024, false},
		{"4KB", 4096, false},
		{"2MB", 2 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"512B", 512, false},
		{"lots", 0, true},
		{"-5MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
