package health

import (
	"encoding/json"
	"net/http"

	"github.com/austindbirch/harbor_relay/internal/transport"
)

type Status struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Transport string `json:"transport,omitempty"`
	Queued    int    `json:"queued"`
}

// TransportReporter is the view of a transport the health check needs.
// *transport.Transport satisfies it.
type TransportReporter interface {
	State() transport.State
	QueueLen() int
}

// HTTPHandler returns an HTTP handler that reports whether the transport is
// accepting envelopes. A nil reporter is treated as healthy.
func HTTPHandler(tr TransportReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}
		code := http.StatusOK

		if tr != nil {
			state := tr.State()
			st.Transport = state.String()
			st.Queued = tr.QueueLen()
			if state != transport.StateRunning {
				st.OK = false
				st.Message = "transport not running"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
