package banner

import (
	"fmt"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner and a config summary to stdout.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/ws?token=<credential> - WebSocket event stream")
	fmt.Println("GET  /v1/conversations - List the caller's conversations")
	fmt.Println("GET  /v1/conversations/{id}/messages?limit=<n> - Message history")
	fmt.Println("GET  /v1/blocks - List the caller's blocks")
	fmt.Println("PUT  /v1/actors - Sync an actor profile (backend key)")
	fmt.Println("POST /v1/tokens - Mint a connection credential (backend key)")

	fmt.Println("\n== Production? =================================================")
	if len(cfg.Security.SigningKeys) == 0 {
		fmt.Println("No signing keys configured: no client can authenticate")
	}
	if len(cfg.Security.BackendKeys) == 0 {
		fmt.Println("No backend keys configured: actor sync and token minting are unreachable")
	}
	if cfg.Media.BaseURL == "" {
		fmt.Println("Media store not configured: sends with attachments will be rejected")
	}
	if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
		fmt.Println("TLS not configured: terminate TLS upstream or set server.tls")
	}
	fmt.Println()
}
