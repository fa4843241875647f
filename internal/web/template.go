package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/presence-switch/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"stateClass": func(s string) string {
		switch s {
		case "ON", "OCCUPIED":
			return "on"
		case "OFF", "VACANT":
			return "off"
		}
		return "unknown"
	},
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(indexHTML))

// formatUptime renders d as e.g. "2d 3h 4m 5s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
		{secs % 60, "s"},
	}
	out := ""
	for i, p := range parts {
		if out == "" && p.n == 0 && i < len(parts)-1 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d%s", p.n, p.unit)
	}
	return out
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Presence Switch</title>
<style>
body { font: 14px/1.4 ui-monospace, monospace; max-width: 640px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.05em; margin: 1.2em 0 0.3em; color: #555; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 3px 6px; border-bottom: 1px solid #eee; }
th { width: 35%; font-weight: normal; color: #666; }
.on { color: #1a7f37; font-weight: bold; }
.off { color: #777; }
.unknown { color: #b35900; }
.ok { color: #1a7f37; }
.bad { color: #c62828; }
</style>
</head>
<body>
<h1>Presence Switch</h1>

<h2>State</h2>
<table>
<tr><th>Controller</th><td class="{{if .Running}}ok{{else}}bad{{end}}">{{if .Running}}running{{else}}stopped{{end}}</td></tr>
<tr><th>Occupancy</th><td id="occupancy" class="{{stateClass .Occupancy}}">{{.Occupancy}}</td></tr>
{{if .State.Debounce.Candidate}}<tr><th>Candidate</th><td>{{.State.Debounce.Candidate}} since {{ts .State.Debounce.CandidateSince}}</td></tr>{{end}}
<tr><th>Switch</th><td id="switch" class="{{stateClass .Actuator}}">{{.Actuator}}</td></tr>
{{if .State.Intent}}<tr><th>Intent</th><td>{{.State.Intent}}</td></tr>{{end}}
</table>

<h2>Devices</h2>
<table>
<tr><th>Sensor</th><td>{{.Config.Sensor}}{{if .State.SensorDegraded}} <span class="bad">degraded</span>{{end}}</td></tr>
<tr><th>Last sample</th><td>{{ts .State.LastSample}}{{if .State.LastSampleDetail}} ({{.State.LastSampleDetail}}){{end}}</td></tr>
<tr><th>Switch</th><td>{{.Config.Kasa}}{{if .State.ActuatorDegraded}} <span class="bad">degraded</span>{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}ok{{else}}bad{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Samples</th><td>{{.State.Counts.Samples}}</td></tr>
<tr><th>Sensor errors</th><td>{{.State.Counts.SensorErrors}}</td></tr>
<tr><th>Occupied</th><td>{{.State.Counts.Occupied}}</td></tr>
<tr><th>Vacated</th><td>{{.State.Counts.Vacated}}</td></tr>
<tr><th>Commands</th><td>{{.State.Counts.Commands}}</td></tr>
<tr><th>Confirmed</th><td>{{.State.Counts.Confirmed}}</td></tr>
<tr><th>Failed</th><td>{{.State.Counts.Failed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>on {{.Config.OccupiedDebounceMs}}ms / off {{.Config.VacantDebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<form method="post" action="/api/{{if .Running}}stop{{else}}start{{end}}"><button>{{if .Running}}Stop{{else}}Start{{end}}</button></form>
<p><a href="/index.json">JSON</a> · <a href="/events.json">Events</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	occupancy := "UNKNOWN"
	if snap.Observed {
		occupancy = snap.State.Debounce.Stable.String()
	}
	actuator := string(snap.State.Actuator)
	if actuator == "" {
		actuator = "UNKNOWN"
	}
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Occupancy string
		Actuator  string
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Occupancy: occupancy,
		Actuator:  actuator,
	}
	return indexTmpl.Execute(w, data)
}
