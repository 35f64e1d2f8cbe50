package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// wireMessage is the JSON shape exchanged with frames:
// {type, id?, data?, originHref?}.
type wireMessage struct {
	Type       Type   `json:"type"`
	ID         string `json:"id,omitempty"`
	Data       any    `json:"data"`
	OriginHref string `json:"originHref,omitempty"`
}

type initPayload struct {
	ManifestURL  *string       `json:"manifestUrl"`
	SDKSignature *SDKSignature `json:"sdkSignature"`
}

type idPayload struct {
	ID string `json:"id"`
}

type logPayload struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Decode validates raw and returns the typed message. It is the only place
// untrusted frame payloads are parsed.
func Decode(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || kind.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	id, err := identity(root.Get("id"))
	if err != nil {
		return nil, err
	}
	data := root.Get("data")

	switch Type(kind.Str) {
	case TypeInit:
		href := root.Get("originHref")
		if href.Exists() && href.Type != gjson.String {
			return nil, fmt.Errorf("%w: originHref must be a string", ErrMalformed)
		}
		var payload initPayload
		if err := decodeObject(data, &payload); err != nil {
			return nil, err
		}
		msg := Init{OriginHref: href.Str, SDKSignature: payload.SDKSignature}
		if payload.ManifestURL != nil {
			msg.ManifestURL = *payload.ManifestURL
		}
		return msg, nil

	case TypeIDAttribution:
		if id == "" {
			if id, err = identity(data.Get("id")); err != nil {
				return nil, err
			}
		}
		if id == "" {
			return nil, fmt.Errorf("%w: ID_ATTRIBUTION without id", ErrMalformed)
		}
		return IDAttribution{ID: id}, nil

	case TypeNetworkIdle:
		return NetworkIdle{ID: id}, nil

	case TypeError:
		msg := Error{ID: id, Data: rawData(data)}
		if data.Type == gjson.String {
			msg.Message = data.Str
		} else {
			msg.Message = data.Get("message").String()
		}
		return msg, nil

	case TypeLog:
		var payload logPayload
		if err := decodeObject(data, &payload); err != nil {
			return nil, err
		}
		return Log{ID: id, Level: payload.Level, Text: payload.Message, Timestamp: payload.Timestamp}, nil

	default:
		return Unknown{Kind: kind.Str, ID: id, Data: rawData(data)}, nil
	}
}

// Encode renders msg in wire form.
func Encode(msg Message) ([]byte, error) {
	w := wireMessage{Type: msg.Type(), ID: msg.Identity()}

	switch m := msg.(type) {
	case Init:
		payload := initPayload{SDKSignature: m.SDKSignature}
		if m.ManifestURL != "" {
			payload.ManifestURL = &m.ManifestURL
		}
		w.Data = payload
		w.OriginHref = m.OriginHref
	case IDAttribution:
		w.Data = idPayload{ID: m.ID}
	case NetworkIdle:
		w.Data = nil
	case Error:
		if len(m.Data) > 0 {
			w.Data = json.RawMessage(m.Data)
		} else {
			w.Data = map[string]string{"message": m.Message}
		}
	case Log:
		w.Data = logPayload{Level: m.Level, Message: m.Text, Timestamp: m.Timestamp}
	case Unknown:
		if len(m.Data) > 0 {
			w.Data = json.RawMessage(m.Data)
		}
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}

	return sonic.Marshal(w)
}

func identity(res gjson.Result) (string, error) {
	switch res.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return res.Str, nil
	case gjson.Number:
		return res.Raw, nil
	default:
		return "", fmt.Errorf("%w: id must be a string or number", ErrMalformed)
	}
}

func decodeObject(data gjson.Result, v any) error {
	if data.Type == gjson.Null {
		return nil
	}
	if !data.IsObject() {
		return fmt.Errorf("%w: data must be an object", ErrMalformed)
	}
	if err := sonic.UnmarshalString(data.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func rawData(data gjson.Result) []byte {
	if data.Type == gjson.Null {
		return nil
	}
	return []byte(data.Raw)
}
