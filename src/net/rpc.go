package net

// RPCResponse captures the receiver's acknowledgement of a message.
type RPCResponse struct {
	Error error
}

// RPC encapsulates an incoming message and provides a response mechanism.
type RPC struct {
	Command  *WireMsg
	RespChan chan<- RPCResponse
}

// Respond acknowledges the message, with an error if it was refused.
func (r *RPC) Respond(err error) {
	r.RespChan <- RPCResponse{err}
}
