// Package config loads the gateway's single INI-style configuration
// file (spec.md §6) into a typed Config, with environment variables
// able to override individual secrets (database password, passphrases)
// without editing the file on disk.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment mirrors the deployment tier. Validate uses it to decide
// whether missing secrets are an error; cmd/api also uses it to pick the
// log format and whether admin endpoints are enabled.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config holds every section of the nexus configuration file.
type Config struct {
	Environment Environment
	Server      ServerConfig
	NexusEbics  NexusEbicsConfig
	NexusFetch  NexusFetchConfig
	NexusDB     NexusDBConfig

	// raw keeps every "section.key" pair as read from the file, so Get
	// and Dump can round-trip keys this struct doesn't expose typed
	// fields for.
	raw map[string]string
}

// ServerConfig holds the HTTP facade's own listening configuration; it
// has no dedicated section in spec.md's file format and is sourced from
// the environment like the teacher's ambient server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NexusEbicsConfig is the [nexus-ebics] section: the single EBICS
// subscriber this gateway instance acts as.
type NexusEbicsConfig struct {
	Currency               string
	HostBaseURL            string
	HostID                 string
	UserID                 string
	PartnerID              string
	IBAN                   string
	BIC                    string
	Name                   string
	BankPublicKeysFile     string
	ClientPrivateKeysFile  string
	BankDialect            string

	// KMSSigningKeyID, when set, names an AWS KMS key (key ID, ARN, or
	// alias) that holds the order-signature private key instead of the
	// local key file; see internal/kmssign.
	KMSSigningKeyID string
}

// NexusFetchConfig is the [nexus-fetch] section: the fetcher's cadence.
type NexusFetchConfig struct {
	Frequency                 time.Duration
	IgnoreTransactionsBefore  *time.Time
}

// NexusDBConfig is the [libeufin-nexusdb-postgres] section.
type NexusDBConfig struct {
	ConnectionString string
	SQLDir           string

	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// Load parses the INI file at path, then applies environment-variable
// overrides for values operators would rather not commit to disk
// (database password chief among them).
func Load(path string) (*Config, error) {
	raw, err := parseINI(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	env := Environment(getEnv("NEXUS_ENV", "production"))
	if env != EnvDevelopment && env != EnvProduction && env != EnvTest {
		env = EnvProduction
	}

	cfg := &Config{
		Environment: env,
		raw:         raw,
		Server: ServerConfig{
			Port:         getEnv("NEXUS_PORT", "8080"),
			ReadTimeout:  getDuration("NEXUS_SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("NEXUS_SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		NexusEbics: NexusEbicsConfig{
			Currency:              raw["nexus-ebics.currency"],
			HostBaseURL:           raw["nexus-ebics.host_base_url"],
			HostID:                raw["nexus-ebics.host_id"],
			UserID:                raw["nexus-ebics.user_id"],
			PartnerID:             raw["nexus-ebics.partner_id"],
			IBAN:                  raw["nexus-ebics.iban"],
			BIC:                   raw["nexus-ebics.bic"],
			Name:                  raw["nexus-ebics.name"],
			BankPublicKeysFile:    raw["nexus-ebics.bank_public_keys_file"],
			ClientPrivateKeysFile: raw["nexus-ebics.client_private_keys_file"],
			BankDialect:           defaultString(raw["nexus-ebics.bank_dialect"], "postfinance"),
			KMSSigningKeyID:       raw["nexus-ebics.kms_signing_key_id"],
		},
		NexusFetch: NexusFetchConfig{
			Frequency: parseDurationOr(raw["nexus-fetch.frequency"], time.Hour),
		},
		NexusDB: NexusDBConfig{
			ConnectionString: raw["libeufin-nexusdb-postgres.config"],
			SQLDir:           raw["libeufin-nexusdb-postgres.sql_dir"],
			Host:             getEnv("NEXUS_DB_HOST", "localhost"),
			Port:             getEnv("NEXUS_DB_PORT", "5432"),
			User:             getEnv("NEXUS_DB_USER", "nexus"),
			Password:         getEnv("NEXUS_DB_PASSWORD", ""),
			Name:             getEnv("NEXUS_DB_NAME", "nexus"),
			SSLMode:          getEnv("NEXUS_DB_SSLMODE", "disable"),
			MaxConns:         int32(getInt("NEXUS_DB_MAX_CONNS", 25)),
		},
	}

	if before := raw["nexus-fetch.ignore_transactions_before"]; before != "" {
		if t, err := time.Parse("2006-01-02", before); err == nil {
			cfg.NexusFetch.IgnoreTransactionsBefore = &t
		}
	}

	return cfg, nil
}

// Validate checks that the configuration carries everything the gateway
// needs to run: the nexus-ebics fields below are required in every
// environment, and the database password only in production.
func (c *Config) Validate() error {
	var errs []string

	required := map[string]string{
		"nexus-ebics.currency":    c.NexusEbics.Currency,
		"nexus-ebics.host_base_url": c.NexusEbics.HostBaseURL,
		"nexus-ebics.host_id":     c.NexusEbics.HostID,
		"nexus-ebics.user_id":     c.NexusEbics.UserID,
		"nexus-ebics.partner_id":  c.NexusEbics.PartnerID,
		"nexus-ebics.iban":        c.NexusEbics.IBAN,
	}
	for key, value := range required {
		if value == "" {
			errs = append(errs, fmt.Sprintf("%s is required", key))
		}
	}

	if c.Environment == EnvProduction && c.NexusDB.Password == "" {
		errs = append(errs, "NEXUS_DB_PASSWORD is required in production")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the raw "section.key" value exactly as parsed from the
// file, for the CLI's `config get` subcommand.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// Dump renders every section.key pair in the file, sorted by section
// then key, for the CLI's `config dump` subcommand.
func (c *Config) Dump() string {
	keys := make([]string, 0, len(c.raw))
	for k := range c.raw {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var b strings.Builder
	currentSection := ""
	for _, k := range keys {
		section, name, _ := strings.Cut(k, ".")
		if section != currentSection {
			fmt.Fprintf(&b, "[%s]\n", section)
			currentSection = section
		}
		fmt.Fprintf(&b, "%s = %s\n", name, c.raw[k])
	}
	return b.String()
}

// PathSub substitutes every "$section/key" placeholder in template with
// the matching configuration value, for the CLI's `config pathsub`
// subcommand (resolving e.g. "$libeufin-nexusdb-postgres/sql_dir" inside
// a larger path).
func (c *Config) PathSub(template string) string {
	out := template
	for k, v := range c.raw {
		placeholder := "$" + strings.ReplaceAll(k, ".", "/")
		out = strings.ReplaceAll(out, placeholder, v)
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// parseINI reads a minimal INI dialect: "[section]" headers, "key =
// value" assignments, "#" and ";" line comments, blank lines ignored.
// Keys are addressed as "section.key".
func parseINI(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]string)
	section := ""
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected \"key = value\", got %q", path, lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if section == "" {
			return nil, fmt.Errorf("%s:%d: key %q outside any [section]", path, lineNum, key)
		}
		out[section+"."+key] = value
	}
	return out, scanner.Err()
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
