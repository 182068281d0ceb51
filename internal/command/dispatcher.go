package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Dispatcher maps method names to Handlers and turns a Request into a
// Response; the UDS server owns one Dispatcher shared by every
// connection.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds method to handler; registering the same method twice
// replaces the previous handler, which is only ever intentional at
// daemon startup.
func (d *Dispatcher) Register(method string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = handler
}

func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	d.mu.RLock()
	handler, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &ErrorInfo{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}}
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: &ErrorInfo{Code: ErrCodeInternal, Message: err.Error()}}
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// DecodeParams is a small helper handlers use to unmarshal their params
// into a concrete struct. A decode error is returned as-is; like any other
// handler error, Handle reports it to the client as ErrCodeInternal.
func DecodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
