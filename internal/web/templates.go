package web

import (
	"html/template"
)

var dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>circuitdiag</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        :root {
            --bg-primary: #0a0f0a;
            --bg-card: rgba(0, 40, 0, 0.4);
            --border-color: #1a4a1a;
            --text-primary: #00ff41;
            --text-dim: #336633;
            --danger: #ff3333;
            --warn: #ffcc00;
        }
        body { background: var(--bg-primary); color: var(--text-primary); font-family: monospace; padding: 1.5rem; }
        h1 { margin-bottom: 1rem; }
        .card { background: var(--bg-card); border: 1px solid var(--border-color); padding: 1rem; margin-bottom: 1rem; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 0.3rem 0.5rem; border-bottom: 1px solid var(--border-color); }
        .vendor { color: var(--danger); }
        .customer { color: var(--text-primary); }
        .unknown { color: var(--warn); }
        .empty-state { color: var(--text-dim); }
        input, button { background: transparent; color: var(--text-primary); border: 1px solid var(--border-color); padding: 0.3rem 0.6rem; font-family: monospace; }
        progress { width: 100%; }
        #log { color: var(--text-dim); height: 8rem; overflow-y: auto; white-space: pre-wrap; }
    </style>
</head>
<body>
    <h1>&gt; circuitdiag</h1>

    <div class="card">
        <div>Watch daemon: {{if .daemon_running}}running (PID {{.daemon_pid}}){{else}}stopped{{end}}</div>
        <div>Services diagnosed: {{len .services}}</div>
    </div>

    <div class="card">
        <form id="diagnose">
            <input id="service" placeholder="service id" required>
            <button type="submit">Diagnose</button>
        </form>
        <progress id="bar" max="100" value="0"></progress>
        <div id="log"></div>
    </div>

    <div class="card">
        {{if .diagnoses}}
        <table>
            <thead><tr><th>ID</th><th>Service</th><th>Time</th><th>Status</th><th>Responsibility</th><th>Reason</th></tr></thead>
            <tbody>{{range .diagnoses}}<tr>
                <td><a href="/api/diagnoses/{{.ID}}">{{.ID}}</a></td>
                <td><a href="/report?service={{.ServiceID}}">{{.ServiceID}}</a></td>
                <td>{{.EvaluatedAt.Format "2006-01-02 15:04:05"}}</td>
                <td>{{.Status}}</td>
                <td class="{{.Responsibility}}">{{.Responsibility}}</td>
                <td>{{.Reason}}</td>
            </tr>{{end}}</tbody>
        </table>
        {{else}}<p class="empty-state">&gt; No diagnoses in the last 24h</p>{{end}}
    </div>

    <script>
        const log = document.getElementById('log');
        const bar = document.getElementById('bar');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/progress');
        ws.onmessage = (msg) => {
            const e = JSON.parse(msg.data);
            bar.value = e.percent;
            log.textContent += '[' + e.service_id + '] ' + e.percent + '% ' + e.message + '\n';
            log.scrollTop = log.scrollHeight;
            if (e.done) setTimeout(() => location.reload(), 1500);
        };
        document.getElementById('diagnose').onsubmit = async (ev) => {
            ev.preventDefault();
            const id = document.getElementById('service').value;
            const res = await fetch('/api/diagnose', {method: 'POST', body: JSON.stringify({service_id: id})});
            if (!res.ok) log.textContent += (await res.json()).error + '\n';
        };
    </script>
</body>
</html>`

func getDashboardTemplate() *template.Template {
	return template.Must(template.New("dashboard").Parse(dashboardHTML))
}
