package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"skein/internal/appconfig"
	"skein/pkg/logging"
)

const httpSubsystem = "TriggerServer"

// triggerServer exposes the HTTP surface external triggers (and trigger
// packages, per the Container Manager's ORCHESTRATOR_URL injection) call
// into to start a workflow execution, plus a liveness probe.
type triggerServer struct {
	appCfg appconfig.Config
	svc    *Services
}

func newTriggerServer(appCfg appconfig.Config, svc *Services) *http.Server {
	ts := &triggerServer{appCfg: appCfg, svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ts.handleHealthz)
	mux.HandleFunc("/triggers/", ts.handleTrigger)

	addr := appCfg.Aggregator.Host + ":" + portString(appCfg.Aggregator.Port)
	return &http.Server{Addr: addr, Handler: ts.authenticate(mux)}
}

func portString(port int) string {
	if port == 0 {
		port = 8090
	}
	return strconv.Itoa(port)
}

func (ts *triggerServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.appCfg.Aggregator.AuthToken == "" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != ts.appCfg.Aggregator.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *triggerServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleTrigger loads the named workflow and executes it with the
// request body (if any) decoded as parameters, running asynchronously so
// the caller gets back a 202 naming the workflow immediately rather than
// blocking on the whole workflow. The response carries no execution id.
func (ts *triggerServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/triggers/")
	if name == "" {
		http.Error(w, "missing workflow name", http.StatusBadRequest)
		return
	}

	def, err := ts.svc.Loader.Load(name)
	if err != nil {
		logging.Warn(httpSubsystem, "trigger for unknown workflow %q: %v", name, err)
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}

	var params map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&params)
	}

	go func() {
		result, err := ts.svc.Engine.Execute(context.Background(), def, params, "http", "")
		if err != nil {
			logging.Error(httpSubsystem, err, "triggered execution of %q failed", name)
			return
		}
		logging.Info(httpSubsystem, "triggered execution %s of %q finished with status %s", result.ID, name, result.Status)
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"workflow": name, "status": "accepted"})
}
