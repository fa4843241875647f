package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/presence-switch/internal/device"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string     `json:"event,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Running        bool       `json:"running"`
	Ready          bool       `json:"ready"`
	Occupancy      string     `json:"occupancy"`
	Candidate      string     `json:"candidate,omitempty"`
	CandidateSince string     `json:"candidate_since,omitempty"`
	Actuator       string     `json:"actuator"`
	Intent         string     `json:"intent,omitempty"`
	Sensor         SensorJSON `json:"sensor"`
	Switch         SwitchJSON `json:"switch"`
	UptimeSeconds  int64      `json:"uptime_seconds"`
	StartTime      string     `json:"start_time"`
	Timestamp      string     `json:"timestamp"`
	MQTT           MQTTStatus `json:"mqtt"`
	Counts         CountsJSON `json:"counts"`
	Config         ConfigJSON `json:"config"`
}

// SensorJSON reports presence sensor health.
type SensorJSON struct {
	Name                string `json:"name"`
	Degraded            bool   `json:"degraded"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastSample          string `json:"last_sample,omitempty"`
	Detail              string `json:"detail,omitempty"`
}

// SwitchJSON reports actuator health.
type SwitchJSON struct {
	Name              string `json:"name"`
	Degraded          bool   `json:"degraded"`
	ReconcileAttempts int    `json:"reconcile_attempts"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of controller counters.
type CountsJSON struct {
	Samples      int `json:"samples"`
	SensorErrors int `json:"sensor_errors"`
	Occupied     int `json:"occupied"`
	Vacated      int `json:"vacated"`
	Commands     int `json:"commands"`
	Confirmed    int `json:"confirmed"`
	Failed       int `json:"failed"`
	Reconciled   int `json:"reconciled"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs             int64  `json:"poll_ms"`
	OccupiedDebounceMs int64  `json:"occupied_debounce_ms"`
	VacantDebounceMs   int64  `json:"vacant_debounce_ms"`
	HeartbeatMs        int64  `json:"heartbeat_ms"`
	Broker             string `json:"broker"`
	HTTPAddr           string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.State
	occupancy := st.Debounce.Stable.String()
	if !snap.Observed {
		occupancy = "UNKNOWN"
	}
	actuator := string(st.Actuator)
	if actuator == "" {
		actuator = string(device.Unknown)
	}

	inner := StatusInner{
		Running:   snap.Running,
		Ready:     snap.Observed,
		Occupancy: occupancy,
		Actuator:  actuator,
		Intent:    string(st.Intent),
		Sensor: SensorJSON{
			Name:                snap.Config.Sensor,
			Degraded:            st.SensorDegraded,
			ConsecutiveFailures: st.SensorFailures,
			LastSample:          formatTime(st.LastSample),
			Detail:              st.LastSampleDetail,
		},
		Switch: SwitchJSON{
			Name:              snap.Config.Kasa,
			Degraded:          st.ActuatorDegraded,
			ReconcileAttempts: st.ReconcileAttempts,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Samples:      st.Counts.Samples,
			SensorErrors: st.Counts.SensorErrors,
			Occupied:     st.Counts.Occupied,
			Vacated:      st.Counts.Vacated,
			Commands:     st.Counts.Commands,
			Confirmed:    st.Counts.Confirmed,
			Failed:       st.Counts.Failed,
			Reconciled:   st.Counts.Reconciled,
		},
		Config: ConfigJSON{
			PollMs:             snap.Config.PollMs,
			OccupiedDebounceMs: snap.Config.OccupiedDebounceMs,
			VacantDebounceMs:   snap.Config.VacantDebounceMs,
			HeartbeatMs:        snap.Config.HeartbeatMs,
			Broker:             snap.Config.Broker,
			HTTPAddr:           snap.Config.HTTPAddr,
		},
	}
	if st.Debounce.Candidate != "" {
		inner.Candidate = st.Debounce.Candidate.String()
		inner.CandidateSince = formatTime(st.Debounce.CandidateSince)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
