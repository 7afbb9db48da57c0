// trigger asks a running server to execute every due sync configuration now.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/auth"
)

type runDueResponse struct {
	Users int    `json:"users"`
	Error string `json:"error"`
}

func main() {
	base := flag.String("url", "http://localhost:8080", "server base URL")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")
	flag.Parse()

	secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if secret == "" {
		log.Fatal("ADMIN_SECRET is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	endpoint := strings.TrimRight(*base, "/") + "/api/v1/admin/sync/run-due"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		log.Fatalf("Build request: %v", err)
	}
	req.Header.Set(auth.AdminHeader, secret)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Call %s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	var out runDueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Decode response (%s): %v", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Server answered %s: %s", resp.Status, out.Error)
	}
	log.WithField("users", out.Users).Info("[Trigger] Due syncs executed")
}
