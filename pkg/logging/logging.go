package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Service    string `json:"service"`
	OrderID    string `json:"order_id,omitempty"`
	ProductID  int64  `json:"product_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

type entry struct {
	Fields
	Timestamp string `json:"timestamp"`
}

func Log(fields Fields) {
	data, err := json.Marshal(entry{Fields: fields, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Since fills DurationMS from start.
func Since(fields Fields, start time.Time) Fields {
	fields.DurationMS = time.Since(start).Milliseconds()
	return fields
}

// Err sets Error when err is non-nil.
func Err(fields Fields, err error) Fields {
	if err != nil {
		fields.Error = err.Error()
	}
	return fields
}
