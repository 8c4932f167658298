package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleINI = `# sample nexus configuration
[nexus-ebics]
currency = EUR
host_base_url = https://bank.example/ebics
host_id = HOST1
user_id = USER1
partner_id = PARTNER1
iban = DE89370400440532013000
bic = COBADEFFXXX
name = Example Gmbh
bank_public_keys_file = bank-keys.json
client_private_keys_file = client-keys.json
bank_dialect = postfinance

[nexus-fetch]
frequency = 1h

[libeufin-nexusdb-postgres]
config = postgres:///nexus
sql_dir = /usr/share/libeufin/sql
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.conf")
	if err := os.WriteFile(path, []byte(sampleINI), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NexusEbics.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", cfg.NexusEbics.Currency)
	}
	if cfg.NexusEbics.HostID != "HOST1" {
		t.Errorf("host_id = %q, want HOST1", cfg.NexusEbics.HostID)
	}
	if cfg.NexusDB.SQLDir != "/usr/share/libeufin/sql" {
		t.Errorf("sql_dir = %q", cfg.NexusDB.SQLDir)
	}
}

func TestValidateRequiresEbicsFields(t *testing.T) {
	cfg := &Config{Environment: EnvDevelopment, raw: map[string]string{}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error with no ebics fields set")
	}
	if !strings.Contains(err.Error(), "nexus-ebics.currency") {
		t.Fatalf("expected currency to be flagged, got: %v", err)
	}
}

func TestGetReturnsRawKey(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, ok := cfg.Get("nexus-ebics.bic")
	if !ok || v != "COBADEFFXXX" {
		t.Fatalf("Get(bic) = %q, %v", v, ok)
	}
	if _, ok := cfg.Get("nexus-ebics.nonexistent"); ok {
		t.Fatal("expected Get to report missing keys as absent")
	}
}

func TestDumpRendersEverySection(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dump := cfg.Dump()
	for _, want := range []string{"[nexus-ebics]", "[nexus-fetch]", "[libeufin-nexusdb-postgres]", "currency = EUR"} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump missing %q:\n%s", want, dump)
		}
	}
}

func TestPathSubReplacesPlaceholders(t *testing.T) {
	cfg, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.PathSub("$libeufin-nexusdb-postgres/sql_dir/0001.sql")
	want := "/usr/share/libeufin/sql/0001.sql"
	if got != want {
		t.Fatalf("PathSub = %q, want %q", got, want)
	}
}
