package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	initLogger sync.Once
	std        *log.Logger
)

// Logger returns the process-wide JSON line logger.
func Logger() *log.Logger {
	initLogger.Do(func() {
		std = log.New(os.Stdout, "", 0)
	})
	return std
}

// Emit writes one JSON line tagged with an event name and a UTC timestamp.
// Field values win over the injected keys only if marshaling both succeeds;
// callers should not pass "ts" or "event" themselves.
func Emit(event string, fields map[string]any) {
	line := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		line[k] = v
	}
	line["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["event"] = event
	data, err := json.Marshal(line)
	if err != nil {
		Logger().Printf(`{"event":"log.marshal_failed","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}

// LogRequest emits the standard per-request line.
func LogRequest(fields map[string]any) {
	Emit("http.request", fields)
}
