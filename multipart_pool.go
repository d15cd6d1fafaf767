package mlcb

const (
	// DefaultReceiveContexts is default number of concurrently received streams in MultipartPool
	DefaultReceiveContexts = 4
	// DefaultSendContexts is default number of concurrently sent streams in MultipartPool
	DefaultSendContexts = 4
	// DefaultReceiveBufferSize is default size of receive buffer of each MultipartPool receive context
	DefaultReceiveBufferSize = 64
)

// MultipartPool is multipart transport that sends and receives multiple streams concurrently. Contexts are
// allocated from fixed size pool. When pool is exhausted new send requests return ErrNoFreeContext and new received
// streams are ignored. Active contexts are never evicted.
type MultipartPool struct {
	multipartTransport
}

// NewMultipartPool creates pooled multipart transport.
func NewMultipartPool(sender FrameSender, config MultipartConfig) *MultipartPool {
	receivers := config.ReceiveContexts
	if receivers <= 0 {
		receivers = DefaultReceiveContexts
	}
	senders := config.SendContexts
	if senders <= 0 {
		senders = DefaultSendContexts
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultReceiveBufferSize
	}
	return &MultipartPool{
		multipartTransport: newMultipartTransport(sender, config, receivers, senders, bufferSize),
	}
}

// Subscribe registers handler for streams with given ids. Payload is received into buffer of the receive context.
func (p *MultipartPool) Subscribe(streamIDs []uint8, handler MultipartHandler) {
	p.subscribe(streamIDs, nil, handler)
}

// Send starts sending payload as stream with given id. Fragments are sent by Process calls.
func (p *MultipartPool) Send(payload []byte, streamID uint8, priority uint8) error {
	for i := range p.senders {
		if p.senders[i].active && p.senders[i].streamID == streamID {
			return ErrSendInProgress
		}
	}
	return p.send(payload, streamID, priority)
}
