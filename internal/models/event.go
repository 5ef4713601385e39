package models

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Event is one inbound account-activity record. Fields keeps every decoded
// key, including ones the model never reads, so the record can be re-emitted
// unchanged to the sinks. Numbers are kept as json.Number literals.
type Event struct {
	UserID string
	Fields map[string]any
}

var (
	// ErrNotObject is returned for payloads that are valid JSON but not an object.
	ErrNotObject = errors.New("event is not a JSON object")
	// ErrMissingUserID is returned when user_id is absent, null, empty or zero.
	ErrMissingUserID = errors.New("user_id required")
	// ErrTrailingData is returned when the object is followed by more JSON.
	ErrTrailingData = errors.New("unexpected data after event object")
)

// DecodeEvent parses a raw message. A decode failure and a missing user_id
// are reported separately because they are dropped for different reasons.
func DecodeEvent(raw []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Event{}, err
	}
	if fields == nil {
		return Event{}, ErrNotObject
	}
	var rest json.RawMessage
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return Event{}, ErrTrailingData
	}

	ev := Event{Fields: fields, UserID: UserID(fields["user_id"])}
	if ev.UserID == "" {
		return ev, ErrMissingUserID
	}
	return ev, nil
}

// UserID renders a user_id value as the key used for lookups and the
// results table. Numeric ids keep their literal digits; null, empty strings,
// booleans and numeric zero read as missing.
func UserID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		if f, err := id.Float64(); err == nil && f == 0 {
			return ""
		}
		return id.String()
	case float64:
		if id == 0 {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the named field as a number. Missing, null and non-numeric
// values read as 0; booleans read as 0/1; numeric strings are parsed.
func (e Event) Float(name string) float64 {
	return ToFloat(e.Fields[name])
}

// ToFloat is the numeric coercion shared by event fields and store rows.
func ToFloat(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		f, _ = x.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type messageIDKey struct{}

// ContextWithMessageID carries the transport message id to the sinks, which
// record it next to every output so a downstream consumer can dedupe.
func ContextWithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

func MessageIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(messageIDKey{}).(string)
	return id
}

// EventIngestResponse is returned by POST /events.
type EventIngestResponse struct {
	MessageID string `json:"message_id"`
	Topic     string `json:"topic"`
}

// ResultSummary is returned by GET /results/summary.
type ResultSummary struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	UserID     string  `json:"user_id,omitempty"`
	Scored     int64   `json:"scored"`
	Fraud      int64   `json:"fraud"`
	FraudRatio float64 `json:"fraud_ratio"`
}
