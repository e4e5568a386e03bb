package output

import (
	"net/http"
)

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>PoseStreamer</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            font-family: system-ui, -apple-system, sans-serif;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .controls {
            position: fixed;
            bottom: 16px;
            left: 16px;
            display: flex;
            gap: 8px;
            z-index: 1000;
        }
        .controls button {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border: none;
            border-radius: 20px;
            font-size: 13px;
            cursor: pointer;
        }
        .controls button:hover { background: rgba(60, 60, 60, 0.95); color: #fff; }
        .status {
            position: fixed;
            top: 16px;
            right: 16px;
            padding: 6px 12px;
            background: rgba(0, 0, 0, 0.7);
            color: #4ec9b0;
            border-radius: 6px;
            font-family: monospace;
            font-size: 13px;
        }
        .status.error { color: #ce9178; }
    </style>
</head>
<body>
    <img src="/stream" alt="PoseStreamer Live Stream">
    <div class="status" id="status">idle</div>
    <div class="controls">
        <button onclick="call('/api/capture/start', {front: false})">▶ Back</button>
        <button onclick="call('/api/capture/start', {front: true})">▶ Front</button>
        <button onclick="call('/api/capture/switch')">⇄ Switch</button>
        <button onclick="call('/api/capture/stop')">■ Stop</button>
    </div>
    <script>
        const status = document.getElementById('status');

        function show(text, isError) {
            status.textContent = text;
            status.classList.toggle('error', !!isError);
        }

        function call(path, body) {
            fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(body || {}),
            })
                .then(r => r.json())
                .then(data => { if (data.code) show(data.code + ': ' + data.message, true); })
                .catch(err => show(String(err), true));
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/api/events');
            ws.onmessage = e => {
                const ev = JSON.parse(e.data);
                if (ev.type === 'detectionResult') {
                    show(ev.landmarks.length + ' landmarks, ' + ev.inferenceTimeMs + ' ms');
                } else if (ev.type === 'error') {
                    show(ev.code + ': ' + ev.message, true);
                }
            };
            ws.onclose = () => setTimeout(connect, 1000);
        }
        connect();
    </script>
</body>
</html>`

// GetViewerHandler returns an HTTP handler that displays the stream with
// capture controls and a live status line
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}
