package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{if .Name}}{{.Name}}{{else}}ramp{{end}} - Load Test Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #0f172a;
            --card: #1e293b;
            --border: #334155;
            --text: #e2e8f0;
            --muted: #94a3b8;
            --good: #22c55e;
            --warn: #eab308;
            --bad: #ef4444;
            --accent: #38bdf8;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.5;
            padding: 2rem;
        }
        .container { max-width: 1200px; margin: 0 auto; }
        .header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            border-bottom: 1px solid var(--border);
            padding-bottom: 1rem;
            margin-bottom: 2rem;
        }
        .header .meta { color: var(--muted); font-size: 0.9rem; }
        .status { font-weight: 700; padding: 0.4rem 1rem; border-radius: 999px; }
        .status.completed { background: rgba(34, 197, 94, 0.15); color: var(--good); }
        .status.cancelled { background: rgba(234, 179, 8, 0.15); color: var(--warn); }
        .cards {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(170px, 1fr));
            gap: 1rem;
            margin-bottom: 2rem;
        }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
        .card .label { color: var(--muted); font-size: 0.8rem; text-transform: uppercase; }
        .card .value { font-size: 1.6rem; font-weight: 600; }
        .section { margin-bottom: 2rem; }
        .section h2 { font-size: 1.1rem; margin-bottom: 0.75rem; }
        table { width: 100%; border-collapse: collapse; background: var(--card); border-radius: 8px; overflow: hidden; }
        th, td { padding: 0.5rem 0.75rem; text-align: left; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 500; font-size: 0.85rem; }
        .chart-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(500px, 1fr)); gap: 1rem; }
        .chart-container { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
        .chart-title { color: var(--muted); margin-bottom: 0.5rem; }
        .chart-wrapper { position: relative; height: 260px; }
        .warning { border-left: 4px solid var(--bad); background: var(--card); padding: 0.75rem 1rem; border-radius: 4px; }
        footer { color: var(--muted); font-size: 0.8rem; margin-top: 2rem; }
    </style>
</head>
<body>
<div class="container">
    <div class="header">
        <div>
            <h1>{{if .Name}}{{.Name}}{{else}}ramp{{end}}</h1>
            <div class="meta">
                {{.Method}} {{.Target}}<br>
                {{.Result.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{formatDuration .Result.Duration}} &middot; run {{.Result.ID}}
            </div>
        </div>
        {{if .Result.Cancelled}}<span class="status cancelled">CANCELLED</span>{{else}}<span class="status completed">COMPLETED</span>{{end}}
    </div>

    <div class="cards">
        <div class="card"><div class="label">Total Requests</div><div class="value">{{formatNumber .Metrics.TotalRequests}}</div></div>
        <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .Metrics.RPS}} req/s</div></div>
        <div class="card"><div class="label">Success Rate</div><div class="value">{{successRate .Metrics}}</div></div>
        <div class="card"><div class="label">P95 Latency</div><div class="value">{{formatLatency .Metrics.Latency.P95}}</div></div>
        <div class="card"><div class="label">Peak VUs</div><div class="value">{{.Result.PeakVUs}}</div></div>
        <div class="card"><div class="label">Received</div><div class="value">{{formatBytes .Metrics.TotalBytes}}</div></div>
    </div>

    {{if .Reachability.Episodes}}
    <div class="section warning">
        Target unreachable {{.Reachability.Episodes}} time(s){{if .Reachability.Unreachable}}, still unreachable at the end of the run{{end}}.
        Longest streak: {{.Reachability.MaxConsecutive}} transport errors. Last error: {{.Reachability.LastError}}
    </div>
    {{end}}

    <div class="section">
        <h2>Stages</h2>
        <table>
            <tr><th>#</th><th>Name</th><th>Duration</th><th>VUs</th></tr>
            {{range $i, $s := .Stages}}
            <tr>
                <td>{{add $i 1}}</td>
                <td>{{$s.Name}}</td>
                <td>{{formatDuration $s.Duration}}</td>
                <td>{{startLevel $.Stages $i}} &rarr; {{$s.Target}}</td>
            </tr>
            {{end}}
        </table>
    </div>

    {{if .TimeSeries}}
    <div class="section">
        <h2>Time Series</h2>
        <div class="chart-grid">
            <div class="chart-container">
                <div class="chart-title">Virtual Users</div>
                <div class="chart-wrapper"><canvas id="vusChart"></canvas></div>
            </div>
            <div class="chart-container">
                <div class="chart-title">Requests Per Second</div>
                <div class="chart-wrapper"><canvas id="rpsChart"></canvas></div>
            </div>
            <div class="chart-container">
                <div class="chart-title">Latency (ms)</div>
                <div class="chart-wrapper"><canvas id="latencyChart"></canvas></div>
            </div>
            <div class="chart-container">
                <div class="chart-title">Error Rate (%)</div>
                <div class="chart-wrapper"><canvas id="errorChart"></canvas></div>
            </div>
        </div>
    </div>
    {{end}}

    <div class="section">
        <h2>Latency Distribution</h2>
        <table>
            <tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
            <tr>
                <td>{{formatLatency .Metrics.Latency.Min}}</td>
                <td>{{formatLatency .Metrics.Latency.Mean}}</td>
                <td>{{formatLatency .Metrics.Latency.P50}}</td>
                <td>{{formatLatency .Metrics.Latency.P90}}</td>
                <td>{{formatLatency .Metrics.Latency.P95}}</td>
                <td>{{formatLatency .Metrics.Latency.P99}}</td>
                <td>{{formatLatency .Metrics.Latency.Max}}</td>
            </tr>
        </table>
    </div>

    <div class="section">
        <h2>Responses</h2>
        <table>
            <tr><th>Status</th><th>Count</th></tr>
            {{range .Metrics.SortedStatusCodes}}
            <tr><td>{{.}}</td><td>{{formatNumber (index $.Metrics.StatusCodes .)}}</td></tr>
            {{end}}
            {{if .Metrics.TransportErrors}}
            <tr><td>transport error</td><td>{{formatNumber .Metrics.TransportErrors}}</td></tr>
            {{end}}
        </table>
    </div>

    {{if .Phases}}
    <div class="section">
        <h2>Phases</h2>
        <table>
            <tr><th>Phase</th><th>Entered</th><th>Requests so far</th></tr>
            {{range .Phases}}
            <tr><td>{{.Phase}}</td><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{formatNumber .Requests}}</td></tr>
            {{end}}
        </table>
    </div>
    {{end}}

    <div class="section">
        <h2>Run</h2>
        <table>
            <tr><td>Iterations</td><td>{{formatNumber .Result.Iterations}}</td></tr>
            <tr><td>VU spawn failures</td><td>{{formatNumber .Result.SpawnFailures}}</td></tr>
            <tr><td>Unterminated VUs</td><td>{{.Result.Unterminated}}</td></tr>
            <tr><td>Steady-state throughput</td><td>{{printf "%.1f" .Metrics.SteadyStateRPS}} req/s</td></tr>
            <tr><td>Error rate</td><td>{{percent .Metrics.ErrorRate}}</td></tr>
        </table>
    </div>

    <footer>Generated by ramp at {{.GeneratedAt.Format "2006-01-02 15:04:05"}}</footer>
</div>

<script>
    const timeSeriesData = {{.TimeSeriesJSON}};

    function lineChart(id, datasets, yTitle) {
        const el = document.getElementById(id);
        if (!el) { return; }
        new Chart(el, {
            type: 'line',
            data: {
                labels: timeSeriesData.map(p => p.t.toFixed(0) + 's'),
                datasets: datasets.map(d => Object.assign({ pointRadius: 0, borderWidth: 2, tension: 0.2 }, d)),
            },
            options: {
                responsive: true,
                maintainAspectRatio: false,
                animation: false,
                scales: { y: { beginAtZero: true, title: { display: true, text: yTitle } } },
                plugins: { legend: { labels: { color: '#e2e8f0' } } },
            },
        });
    }

    if (timeSeriesData.length > 0) {
        lineChart('vusChart', [
            { label: 'active', data: timeSeriesData.map(p => p.vus), borderColor: '#38bdf8' },
            { label: 'target', data: timeSeriesData.map(p => p.targetVus), borderColor: '#94a3b8', borderDash: [4, 4] },
        ], 'VUs');
        lineChart('rpsChart', [
            { label: 'req/s', data: timeSeriesData.map(p => p.rps), borderColor: '#22c55e' },
        ], 'req/s');
        lineChart('latencyChart', [
            { label: 'p50', data: timeSeriesData.map(p => p.p50), borderColor: '#38bdf8' },
            { label: 'p95', data: timeSeriesData.map(p => p.p95), borderColor: '#eab308' },
            { label: 'p99', data: timeSeriesData.map(p => p.p99), borderColor: '#ef4444' },
        ], 'ms');
        lineChart('errorChart', [
            { label: 'errors', data: timeSeriesData.map(p => p.errorRate), borderColor: '#ef4444' },
        ], '%');
    }
</script>
</body>
</html>
`
