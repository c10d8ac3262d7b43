package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()

	portFlag := cmd.Flags().Lookup("port")
	if portFlag == nil {
		t.Fatal("--port flag not found")
	}

	configFlag := cmd.Flags().Lookup("config")
	if configFlag == nil {
		t.Fatal("--config flag not found")
	}

	noCORSFlag := cmd.Flags().Lookup("no-cors")
	if noCORSFlag == nil {
		t.Fatal("--no-cors flag not found")
	}
}

func TestServeCmd_EnvVars(t *testing.T) {
	clearServeEnv(t)
	os.Setenv("MCPPROXY_SERVER_HOST", "127.0.0.1")
	os.Setenv("MCPPROXY_SERVER_PORT", "9090")
	os.Setenv("MCPPROXY_CONFIG", "mcpproxy.json")

	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	cfgPath, _ := cmd.Flags().GetString("config")

	if host != "127.0.0.1" {
		t.Errorf("host = %q, want %q from env", host, "127.0.0.1")
	}
	if port != 9090 {
		t.Errorf("port = %d, want %d from env", port, 9090)
	}
	if cfgPath != "mcpproxy.json" {
		t.Errorf("config = %q, want %q from env", cfgPath, "mcpproxy.json")
	}
}

func TestLoadServeConfig_CLIOverridesFile(t *testing.T) {
	clearServeEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mcpproxy.json")

	body := `{
		"server": {"host": "0.0.0.0", "port": 4000},
		"mcpServers": {"calc": {"type": "stdio", "command": "calc-server"}}
	}`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := loadServeConfig(configPath, &ServeConfig{Host: "127.0.0.1", Port: 9000})
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want CLI override %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want CLI override %d", cfg.Server.Port, 9000)
	}
}

func TestLoadServeConfig_ReadsUpstreamsFromFile(t *testing.T) {
	clearServeEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mcpproxy.json")

	body := `{
		"server": {"port": 3000},
		"mcpServers": {
			"calc": {"type": "stdio", "command": "calc-server"},
			"docs": {"type": "sse", "url": "https://example.com/mcp"}
		}
	}`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := loadServeConfig(configPath, &ServeConfig{})
	if err != nil {
		t.Fatalf("loadServeConfig() error = %v", err)
	}
	if len(cfg.Upstreams) != 2 {
		t.Fatalf("Upstreams = %+v, want 2 entries", cfg.Upstreams)
	}
}

func clearServeEnv(t *testing.T) {
	t.Helper()
	vars := []string{"MCPPROXY_SERVER_HOST", "MCPPROXY_SERVER_PORT", "MCPPROXY_CONFIG"}
	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}
