// Package tenant owns the multi-tenant layer: one env file per tenant
// describing credentials and preferences, and the supervisor that runs
// one bot, ledger and dashboard per tenant.
package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Tenant is one tenant's configuration, loaded from tenants/<id>.env.
type Tenant struct {
	ID       string
	Nickname string

	AccessKey string
	SecretKey string

	DashboardPort int
	PaperTrade    bool
	PaperBalance  float64

	TelegramToken  string
	TelegramChatID int64
}

// LoadDir reads every *.env file under dir, sorted by tenant id. A
// missing directory yields an empty slice: a fresh deployment starts
// with no tenants and accepts them via registration.
func LoadDir(dir string) ([]Tenant, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenants dir: %w", err)
	}

	var tenants []Tenant
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".env") {
			continue
		}
		t, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", name, err)
		}
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

func loadFile(path string) (Tenant, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return Tenant{}, err
	}

	t := Tenant{
		ID:            strings.TrimSuffix(filepath.Base(path), ".env"),
		Nickname:      env["NICKNAME"],
		AccessKey:     env["ACCESS_KEY"],
		SecretKey:     env["SECRET_KEY"],
		TelegramToken: env["TELEGRAM_TOKEN"],
	}
	if t.Nickname == "" {
		t.Nickname = t.ID
	}
	t.DashboardPort, _ = strconv.Atoi(env["DASHBOARD_PORT"])
	t.PaperTrade = parseBool(env["PAPER_TRADE"])
	t.PaperBalance, _ = strconv.ParseFloat(env["PAPER_BALANCE"], 64)
	t.TelegramChatID, _ = strconv.ParseInt(env["TELEGRAM_CHAT_ID"], 10, 64)

	if !t.PaperTrade && (t.AccessKey == "" || t.SecretKey == "") {
		return Tenant{}, fmt.Errorf("live tenant needs ACCESS_KEY and SECRET_KEY")
	}
	return t, nil
}

// Save writes the tenant's env file under dir, creating the directory
// when needed. Registration uses this to persist new tenants.
func (t Tenant) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tenants dir: %w", err)
	}
	env := map[string]string{
		"NICKNAME":       t.Nickname,
		"ACCESS_KEY":     t.AccessKey,
		"SECRET_KEY":     t.SecretKey,
		"DASHBOARD_PORT": strconv.Itoa(t.DashboardPort),
		"PAPER_TRADE":    strconv.FormatBool(t.PaperTrade),
	}
	if t.PaperBalance > 0 {
		env["PAPER_BALANCE"] = strconv.FormatFloat(t.PaperBalance, 'f', 0, 64)
	}
	if t.TelegramToken != "" {
		env["TELEGRAM_TOKEN"] = t.TelegramToken
		env["TELEGRAM_CHAT_ID"] = strconv.FormatInt(t.TelegramChatID, 10)
	}
	return godotenv.Write(env, filepath.Join(dir, t.ID+".env"))
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// IDFromNickname derives a filesystem-safe tenant id from a nickname.
func IDFromNickname(nick string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(nick)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	id := strings.Trim(sb.String(), "-")
	if id == "" {
		id = "tenant"
	}
	return id
}
