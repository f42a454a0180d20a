package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/joho/godotenv"
)

const keyName = "DBVIEWER_KEY"

// EnvFile is where a generated key is written back to.
var EnvFile = ".env"

type Config struct {
	Port           int
	SecretKey      string
	DataDir        string
	LogDir         string
	LogLevel       string
	AllowedOrigins []string
	CookieSecure   bool
	SessionMaxAge  time.Duration

	// Pool sizing for sessions opened against user databases.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	ListRowsRetries int
	DefaultSSLMode  string
}

func Load() (*Config, error) {
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load(EnvFile)

	key := os.Getenv(keyName)
	if len(key) < 32 {
		fmt.Println(keyName + " not found or too short. Generating a new secure key...")
		newKey, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}

		if err := saveKeyToEnv(EnvFile, newKey); err != nil {
			fmt.Printf("Warning: Failed to save generated key to %s: %v\n", EnvFile, err)
		} else {
			fmt.Printf("New %s saved to %s file.\n", keyName, EnvFile)
		}
		key = newKey
	}

	cfg := &Config{
		Port:            envInt("PORT", 8080),
		SecretKey:       key,
		DataDir:         envString("DATA_DIR", "."),
		LogDir:          envString("LOG_DIR", "logs"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		AllowedOrigins:  envList("ALLOWED_ORIGINS", []string{"*"}),
		CookieSecure:    envBool("COOKIE_SECURE", false),
		SessionMaxAge:   envDuration("SESSION_MAX_AGE", 7*24*time.Hour),
		MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 7),
		MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 3),
		ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 15*time.Minute),
		ConnectTimeout:  envDuration("CONNECT_TIMEOUT", 10*time.Second),
		QueryTimeout:    envDuration("QUERY_TIMEOUT", 30*time.Second),
		ListRowsRetries: envInt("LIST_ROWS_RETRIES", 3),
		DefaultSSLMode:  envString("DEFAULT_SSLMODE", "disable"),
	}

	switch cfg.DefaultSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("DEFAULT_SSLMODE: unsupported value %q", cfg.DefaultSSLMode)
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}

	return cfg, nil
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name))); err == nil && v >= 0 {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name))); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go durations ("15m") or plain seconds ("900").
func envDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func envList(name string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func saveKeyToEnv(filename, key string) error {
	content, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return os.WriteFile(filename, []byte(fmt.Sprintf("%s=%s\nPORT=8080\n", keyName, key)), 0600)
	} else if err != nil {
		return err
	}

	lines := strings.Split(decodeEnvText(content), "\n")
	found := false
	newLines := []string{}

	for _, line := range lines {
		trimmed := strings.ReplaceAll(strings.TrimSpace(line), "\x00", "")
		if strings.HasPrefix(trimmed, keyName+"=") {
			newLines = append(newLines, fmt.Sprintf("%s=%s", keyName, key))
			found = true
		} else if trimmed != "" {
			newLines = append(newLines, trimmed)
		}
	}

	if !found {
		newLines = append(newLines, fmt.Sprintf("%s=%s", keyName, key))
	}

	return os.WriteFile(filename, []byte(strings.Join(newLines, "\n")+"\n"), 0600)
}

// decodeEnvText returns content as UTF-8. Editors on Windows like to save
// .env files as UTF-16LE, with or without a BOM.
func decodeEnvText(content []byte) string {
	hasBOM := len(content) >= 2 && content[0] == 0xff && content[1] == 0xfe

	nullCount := 0
	for _, b := range content {
		if b == 0 {
			nullCount++
		}
	}
	implicit := !hasBOM && len(content) > 10 && float64(nullCount)/float64(len(content)) > 0.3
	if !hasBOM && !implicit {
		return string(content)
	}

	data := content
	if hasBOM {
		data = content[2:]
	}
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	u16s := make([]uint16, len(data)/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return string(utf16.Decode(u16s))
}
