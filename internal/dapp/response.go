package dapp

import (
	"encoding/json"
	"errors"
)

// Response is the single reply correlated with a Request.ID. Exactly one of
// Data (success, possibly nil) and Err is meaningful.
type Response struct {
	ID     string
	Method Method
	Data   any
	Err    *Error
}

// Success builds a success response for req.
func Success(req *Request, data any) Response {
	return Response{ID: req.ID, Method: req.Method, Data: data}
}

// Failure builds an error response for req. Unclassified errors become KindUnknown
// with an internal error message.
func Failure(req *Request, err error) Response {
	var de *Error
	if !errors.As(err, &de) {
		de = Wrap(KindUnknown, MsgInternal, err)
	}
	return Response{ID: req.ID, Method: req.Method, Err: de}
}

// IsError reports whether the response carries an error.
func (r Response) IsError() bool { return r.Err != nil }

// Outcome is the metrics label for the response.
func (r Response) Outcome() string {
	if r.Err == nil {
		return "success"
	}
	return r.Err.Kind.String()
}

// Message is the wire form posted back into the injected bridge:
// {id, method, data} or {id, method, error}.
type Message struct {
	ID     string `json:"id"`
	Method Method `json:"method,omitempty"`
	Data   any    `json:"-"`
	Error  string `json:"-"`
	Failed bool   `json:"-"`
}

// MessageOf converts a response into its bridge wire form. An error without
// a message is sent with the generic internal error text.
func MessageOf(r Response) Message {
	m := Message{ID: r.ID, Method: r.Method, Data: r.Data}
	if r.Err != nil {
		m.Failed = true
		m.Error = r.Err.Message
		if m.Error == "" {
			m.Error = MsgInternal
		}
	}
	return m
}

// MarshalJSON emits "data" (even when null) for successes and "error" otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Failed || m.Error != "" {
		return json.Marshal(struct {
			ID     string `json:"id"`
			Method Method `json:"method,omitempty"`
			Error  string `json:"error"`
		}{m.ID, m.Method, m.Error})
	}
	return json.Marshal(struct {
		ID     string `json:"id"`
		Method Method `json:"method,omitempty"`
		Data   any    `json:"data"`
	}{m.ID, m.Method, m.Data})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID     string          `json:"id"`
		Method Method          `json:"method"`
		Data   json.RawMessage `json:"data"`
		Error  *string         `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.ID, m.Method, m.Error, m.Failed = raw.ID, raw.Method, "", raw.Error != nil
	if raw.Error != nil {
		m.Error = *raw.Error
	}
	m.Data = nil
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		var v any
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		m.Data = v
	}
	return nil
}
