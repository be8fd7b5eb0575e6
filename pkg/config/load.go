package config

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load applies, in order: defaults, the YAML file at path (skipped when path
// is empty), the db.properties file named by store.properties_file, and
// environment overrides.
func Load(path string) (*Config, error) {
	c := Defaults()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if v := os.Getenv("TASKFLOW_DB_PROPERTIES"); v != "" {
		c.Store.PropertiesFile = v
	}
	if c.Store.DSN == "" && c.Store.PropertiesFile != "" {
		props, err := LoadProperties(c.Store.PropertiesFile)
		if err != nil {
			return nil, err
		}
		c.Store.DSN = DSNFromProperties(props)
	}
	applyEnvOverrides(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadProperties reads KEY=VALUE lines; blank lines and # comments are ignored.
func LoadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("properties open: %w", err)
	}
	defer f.Close()
	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) && len(val) >= 2 {
			val = val[1 : len(val)-1]
		}
		out[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("properties read: %w", err)
	}
	return out, nil
}

// DSNFromProperties builds a postgres URL from DB_HOST, DB_PORT, DB_USER, DB_PASS and DB_NAME.
func DSNFromProperties(p map[string]string) string {
	host := p["DB_HOST"]
	if host == "" {
		return ""
	}
	port := p["DB_PORT"]
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + p["DB_NAME"],
	}
	if user := p["DB_USER"]; user != "" {
		if pass, ok := p["DB_PASS"]; ok && pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	if mode := p["DB_SSLMODE"]; mode != "" {
		u.RawQuery = url.Values{"sslmode": []string{mode}}.Encode()
	}
	return u.String()
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("POLICY_BASE_URL"); v != "" {
		c.Policy.BaseURL = v
	}
	if v := os.Getenv("TASKFLOW_STORE_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TASKFLOW_PEBBLE_DIR"); v != "" {
		c.Store.PebbleDir = v
	}
	if v := os.Getenv("TASKFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TASKFLOW_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if n, ok := envInt("TASKFLOW_POLICY_TIMEOUT_MS"); ok {
		c.Policy.TimeoutMS = n
	}
	if n, ok := envInt("TASKFLOW_POLICY_MAX_RETRIES"); ok {
		c.Policy.MaxRetries = n
	}
	if v := os.Getenv("TASKFLOW_KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = v
	}
	if v := os.Getenv("TASKFLOW_KAFKA_TOPIC"); v != "" {
		c.Events.KafkaTopic = v
	}
	if v := os.Getenv("TASKFLOW_EVENTS_FILE"); v != "" {
		c.Events.FilePath = v
	}
	if v := os.Getenv("TASKFLOW_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RPS = f
		}
	}
	if n, ok := envInt("TASKFLOW_RATE_LIMIT_BURST"); ok {
		c.RateLimit.Burst = n
	}
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EnvString returns the trimmed value of key, or def when unset.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
