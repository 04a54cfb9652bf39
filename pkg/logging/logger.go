package logging

import (
	"encoding/json"
	"log"
	"os"
)

var (
	InfoLogger  *log.Logger
	ErrorLogger *log.Logger
	eventLogger *log.Logger
)

// InitLogging initializes logging
func InitLogging() {
	InfoLogger = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	eventLogger = log.New(os.Stdout, "", 0)
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Printf(format, v...)
	}
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Printf(format, v...)
	}
}

// Event logs a structured event as a single JSON line.
// Fields must not contain raw purchase tokens or client keys.
func Event(event string, fields map[string]interface{}) {
	if eventLogger == nil {
		return
	}
	payload := make(map[string]interface{}, len(fields)+1)
	payload["event"] = event
	for k, v := range fields {
		payload[k] = v
	}
	line, err := json.Marshal(payload)
	if err != nil {
		Errorf("Failed to marshal event %q: %v", event, err)
		return
	}
	eventLogger.Println(string(line))
}
