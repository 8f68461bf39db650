package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openboatworks/nmea_bridge_simulator/internal/codec"
	"github.com/openboatworks/nmea_bridge_simulator/internal/logging"
	"github.com/openboatworks/nmea_bridge_simulator/internal/models"
	"github.com/openboatworks/nmea_bridge_simulator/internal/recorder"
	"github.com/openboatworks/nmea_bridge_simulator/internal/scenario"
	"github.com/openboatworks/nmea_bridge_simulator/internal/source"
	"github.com/openboatworks/nmea_bridge_simulator/internal/store"
	"github.com/openboatworks/nmea_bridge_simulator/internal/transport"
)

// Deps are the components the control plane orchestrates.
type Deps struct {
	Router    *source.Router
	Factory   *source.Factory
	Scenarios *scenario.Manager
	Hub       *transport.Hub
	Sessions  *store.SessionStore
	Logs      *logging.LogStore
	Started   time.Time
}

// Machine-readable error kinds in control plane responses.
const (
	ErrBadRequest    = "bad_request"
	ErrConfiguration = "configuration_error"
	ErrNotFound      = "not_found"
	ErrRejected      = "rejected"
	ErrInternal      = "internal_error"
)

// ErrorInfo pairs a machine-readable kind with a human-readable message.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StateResponse is the envelope of every mutating operation: success or a
// typed error, plus the resulting state snapshot. The snapshot is taken
// under the router's serialization lock, so it is never partially applied.
type StateResponse struct {
	OK    bool                   `json:"ok"`
	Error *ErrorInfo             `json:"error,omitempty"`
	State *models.SimulatorState `json:"state,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (d Deps) respondOK(w http.ResponseWriter, extra map[string]interface{}) {
	state := d.Router.Snapshot()
	writeJSON(w, http.StatusOK, StateResponse{OK: true, State: &state, Extra: extra})
}

func (d Deps) respondErr(w http.ResponseWriter, status int, kind, message string) {
	state := d.Router.Snapshot()
	writeJSON(w, status, StateResponse{
		OK:    false,
		Error: &ErrorInfo{Kind: kind, Message: message},
		State: &state,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, d Deps, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		d.respondErr(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// Routes builds the control plane router.
func Routes(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", HandleHealth(d))
	r.Get("/metrics", HandleMetrics(d))

	r.Route("/api", func(r chi.Router) {
		r.Post("/mode/switch", HandleModeSwitch(d))
		r.Get("/mode/status", HandleModeStatus(d))

		r.Post("/scenarios/start", HandleScenarioStart(d))
		r.Get("/scenarios/status", HandleScenarioStatus(d))
		r.Post("/scenarios/stop", HandleScenarioStop(d))
		r.Get("/scenarios/list", HandleScenarioList(d))

		r.Post("/inject-data", HandleInjectData(d))
		r.Post("/simulate-error", HandleSimulateError(d))

		r.Get("/clients/connected", HandleClientsConnected(d))

		r.Post("/session/record", HandleSessionRecord(d))
		r.Post("/session/save", HandleSessionSave(d))
		r.Post("/session/load", HandleSessionLoad(d))
		r.Get("/session/list", HandleSessionList(d))

		r.Get("/logs", HandleGetLogs(d))
	})
	return r
}

// ModeConfig carries the per-variant settings of a mode switch.
type ModeConfig struct {
	// scenario
	Name  string  `json:"name,omitempty"`
	Loop  bool    `json:"loop,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	// file
	Path string  `json:"path,omitempty"`
	Rate float64 `json:"rate,omitempty"`
	// live
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`
}

// HandleModeSwitch transitions the active data source. A configuration
// error rejects the switch and retains the prior mode.
func HandleModeSwitch(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode   string     `json:"mode"`
			Config ModeConfig `json:"config"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}

		var build func() (source.DataSource, error)
		switch req.Mode {
		case models.SourceScenario:
			build = func() (source.DataSource, error) {
				return d.Factory.Scenario(req.Config.Name, req.Config.Loop, req.Config.Speed)
			}
		case models.SourceFile:
			build = func() (source.DataSource, error) {
				return d.Factory.PlaybackFile(req.Config.Path, req.Config.Rate, req.Config.Loop)
			}
		case models.SourceLive:
			build = func() (source.DataSource, error) {
				return d.Factory.Live(source.LiveConfig{
					Host:   req.Config.Host,
					Port:   req.Config.Port,
					Device: req.Config.Device,
					Baud:   req.Config.Baud,
				})
			}
		case models.SourceNone:
			if err := d.Router.StopActive(); err != nil {
				d.respondErr(w, http.StatusConflict, ErrRejected, err.Error())
				return
			}
			d.respondOK(w, nil)
			return
		default:
			d.respondErr(w, http.StatusBadRequest, ErrBadRequest, "unknown mode "+req.Mode)
			return
		}

		if err := d.Router.Switch(req.Mode, build); err != nil {
			d.respondErr(w, http.StatusUnprocessableEntity, ErrConfiguration, err.Error())
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleModeStatus reports the current mode and state snapshot.
func HandleModeStatus(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := d.Router.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"current_mode": state.ActiveSource,
			"bridge_mode":  state.BridgeMode,
			"state":        state,
		})
	}
}

// HandleScenarioStart starts a named scenario from the catalogue.
func HandleScenarioStart(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name    string `json:"name"`
			Options struct {
				Loop  bool    `json:"loop"`
				Speed float64 `json:"speed"`
			} `json:"options"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		if req.Name == "" {
			d.respondErr(w, http.StatusBadRequest, ErrBadRequest, "scenario name required")
			return
		}
		err := d.Router.Switch(models.SourceScenario, func() (source.DataSource, error) {
			return d.Factory.Scenario(req.Name, req.Options.Loop, req.Options.Speed)
		})
		if err != nil {
			if strings.Contains(err.Error(), "not found") {
				d.respondErr(w, http.StatusNotFound, ErrNotFound, err.Error())
				return
			}
			d.respondErr(w, http.StatusUnprocessableEntity, ErrConfiguration, err.Error())
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleScenarioStatus reports scenario progress; an error when no
// scenario is active, rather than an ambiguous empty body.
func HandleScenarioStatus(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Router.ActiveKind() != models.SourceScenario {
			d.respondErr(w, http.StatusNotFound, ErrNotFound, "no scenario running")
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleScenarioStop stops the running scenario.
func HandleScenarioStop(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Router.ActiveKind() != models.SourceScenario {
			d.respondErr(w, http.StatusConflict, ErrRejected, "no scenario running")
			return
		}
		if err := d.Router.StopActive(); err != nil {
			d.respondErr(w, http.StatusConflict, ErrRejected, err.Error())
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleScenarioList lists the scenario catalogue.
func HandleScenarioList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := d.Scenarios.List()
		if err != nil {
			d.respondErr(w, http.StatusInternalServerError, ErrInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// HandleInjectData broadcasts ad-hoc sentences. Each one is validated by
// the codec first; malformed sentences are dropped and counted, which is
// exactly what failure-mode test suites probe for.
func HandleInjectData(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sentences []string `json:"sentences"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		if len(req.Sentences) == 0 {
			d.respondErr(w, http.StatusBadRequest, ErrBadRequest, "sentences required")
			return
		}

		injected, rejected := 0, 0
		for _, s := range req.Sentences {
			payload := []byte(s)
			if !strings.HasSuffix(s, "\r\n") {
				payload = append(payload, '\r', '\n')
			}
			if _, err := codec.Decode(payload); err != nil {
				d.Router.RecordDecodeError()
				d.Logs.LogAndStore("warning", "inject-data: dropped malformed sentence: %v", err)
				rejected++
				continue
			}
			d.Router.Publish(models.WireMessage{
				Payload:   payload,
				Kind:      models.KindTextSentence,
				Timestamp: time.Now(),
				SourceTag: "inject",
			})
			injected++
		}
		d.respondOK(w, map[string]interface{}{"injected": injected, "rejected": rejected})
	}
}

// HandleSimulateError arms fault injection for failure-mode testing.
func HandleSimulateError(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ErrorType       string  `json:"error_type"`
			DurationSeconds float64 `json:"duration_seconds"`
			Transport       string  `json:"transport"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		duration := time.Duration(req.DurationSeconds * float64(time.Second))
		if err := d.Router.SetFault(req.ErrorType, duration, req.Transport); err != nil {
			d.respondErr(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleClientsConnected lists every client connection record.
func HandleClientsConnected(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Hub.Clients())
	}
}

// HandleSessionRecord toggles capture of the broadcast stream.
func HandleSessionRecord(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		rec := d.Router.Recorder()
		if req.Enabled {
			rec.Start()
			d.Logs.LogAndStore("info", "session recording started")
		} else {
			rec.Stop()
			d.Logs.LogAndStore("info", "session recording stopped")
		}
		d.respondOK(w, nil)
	}
}

// HandleSessionSave persists the current capture as a named snapshot and
// restarts recording if it was active.
func HandleSessionSave(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		if req.Name == "" {
			d.respondErr(w, http.StatusBadRequest, ErrBadRequest, "session name required")
			return
		}

		rec := d.Router.Recorder()
		wasRecording := rec.Recording()
		entries := rec.Stop()
		if wasRecording {
			rec.Start()
		}
		if len(entries) == 0 {
			d.respondErr(w, http.StatusConflict, ErrRejected, "nothing captured; enable recording first")
			return
		}

		capture := recorder.FormatCapture(entries)
		if err := d.Sessions.SaveSession(req.Name, string(d.Router.Mode()), capture, len(entries)); err != nil {
			d.respondErr(w, http.StatusInternalServerError, ErrInternal, err.Error())
			return
		}
		d.Logs.LogAndStore("info", "session %q saved (%d messages)", req.Name, len(entries))
		d.respondOK(w, map[string]interface{}{"messages": len(entries)})
	}
}

// HandleSessionLoad replays a saved snapshot through the file playback
// source.
func HandleSessionLoad(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string  `json:"name"`
			Rate float64 `json:"rate"`
			Loop bool    `json:"loop"`
		}
		if !decodeBody(w, r, d, &req) {
			return
		}
		sess, err := d.Sessions.GetSessionByName(req.Name)
		if err != nil {
			d.respondErr(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		entries, err := recorder.ParseCapture(strings.NewReader(sess.Capture))
		if err != nil {
			d.respondErr(w, http.StatusInternalServerError, ErrInternal, err.Error())
			return
		}
		err = d.Router.Switch(models.SourceFile, func() (source.DataSource, error) {
			return d.Factory.PlaybackEntries(entries, req.Rate, req.Loop, "session:"+req.Name)
		})
		if err != nil {
			d.respondErr(w, http.StatusUnprocessableEntity, ErrConfiguration, err.Error())
			return
		}
		d.respondOK(w, nil)
	}
}

// HandleSessionList lists saved snapshots.
func HandleSessionList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := d.Sessions.ListSessions()
		if err != nil {
			d.respondErr(w, http.StatusInternalServerError, ErrInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

// HandleHealth reports liveness and uptime.
func HandleHealth(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"uptime_seconds": time.Since(d.Started).Seconds(),
		})
	}
}

// HandleMetrics reports performance counters.
func HandleMetrics(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Router.MetricsSnapshot())
	}
}

// HandleGetLogs returns the recent log window.
func HandleGetLogs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Logs.GetAll())
	}
}
