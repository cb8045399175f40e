package chat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Decode converts one raw event argument into T.
// TECHNICAL DISCOVERY: Payloads go through a generic map first so the same
// decoder handles acks, pushes and the error envelope; timestamps arrive as
// ISO-8601 strings and are parsed by a hook
func Decode[T any](raw json.RawMessage) (*T, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			floatToIntHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(generic); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// errorField returns the error string of an {error: "..."} envelope, if any.
func errorField(raw json.RawMessage) string {
	var envelope struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == nil {
		return ""
	}
	switch v := envelope.Error.(type) {
	case string:
		return v
	case bool:
		if v {
			return "unknown error"
		}
		return ""
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// historyAckError returns the error carried by a getChatHistory ack: a bare
// non-empty string, or an {error} envelope.
func historyAckError(reply []json.RawMessage) string {
	if len(reply) == 0 {
		return ""
	}
	var msg string
	if err := json.Unmarshal(reply[0], &msg); err == nil {
		return msg
	}
	return errorField(reply[0])
}

func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data interface{}) (interface{}, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}
