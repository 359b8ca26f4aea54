package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/cartsync/internal/schema"
)

// ConnectionErrorMessage is shown for every transport failure.
const ConnectionErrorMessage = "Could not connect to the server"

// TransportError reports a request that never produced a usable answer:
// the network failed, or a 2xx body could not be read, parsed or validated.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// AppError reports a request the server answered but rejected: a non-2xx
// status, or a payload with success set to false. Message is the
// server-supplied text and may be empty.
type AppError struct {
	Op      string
	Status  int
	Message string
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request rejected"
	}
	if e.Status < 200 || e.Status > 299 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// UserMessage maps err to the text a notification should carry. Server
// messages are surfaced verbatim; fallback covers rejections without one
// and errors that did not come from the transport.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Message != "" {
			return ae.Message
		}
		return fallback
	}
	var te *TransportError
	if errors.As(err, &te) {
		return ConnectionErrorMessage
	}
	return fallback
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// envelopeMessage picks the server-supplied failure text: error, then
// message, then the flattened form errors.
func envelopeMessage(env *schema.Envelope) string {
	if env.Error != "" {
		return env.Error
	}
	if env.Message != "" {
		return env.Message
	}
	return flattenErrors(env.Errors)
}

// flattenErrors joins form errors, which views return either as a map of
// field to messages, a map of field to message, or a plain list.
func flattenErrors(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var byFieldList map[string][]string
	if err := json.Unmarshal(raw, &byFieldList); err == nil {
		return joinSorted(byFieldList)
	}

	var byField map[string]string
	if err := json.Unmarshal(raw, &byField); err == nil {
		m := make(map[string][]string, len(byField))
		for k, v := range byField {
			m[k] = []string{v}
		}
		return joinSorted(m)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "\n")
	}
	return ""
}

func joinSorted(m map[string][]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var msgs []string
	for _, k := range keys {
		msgs = append(msgs, m[k]...)
	}
	return strings.Join(msgs, "\n")
}
