package ipc

import (
	"fmt"
	"sync"
)

// Mode selects how a Codec treats serializer ids it has no registration for.
type Mode int

const (
	// Strict fails decoding of an unregistered id with a ProtocolError.
	// Used for trusted internal traffic.
	Strict Mode = iota
	// Permissive decodes an unregistered id as UnknownMessage so the
	// receiver can acknowledge it. Used for traffic from a child whose
	// message set may be newer than ours.
	Permissive
)

func (m Mode) String() string {
	if m == Permissive {
		return "permissive"
	}
	return "strict"
}

// Codec is a registry of serializers keyed by serializer id.
type Codec struct {
	mode Mode

	mu          sync.RWMutex
	serializers map[uint32]Serializer
}

// NewCodec creates an empty codec.
func NewCodec(mode Mode) *Codec {
	return &Codec{mode: mode, serializers: make(map[uint32]Serializer)}
}

// NewDefaultCodec creates a codec with every known message kind registered.
func NewDefaultCodec(mode Mode) *Codec {
	c := NewCodec(mode)
	for _, s := range DefaultSerializers() {
		if err := c.Register(s); err != nil {
			panic(err)
		}
	}
	return c
}

// Mode returns the codec's unknown-id policy.
func (c *Codec) Mode() Mode {
	return c.mode
}

// Register adds a serializer. Registering the same id twice is an error.
func (c *Codec) Register(s Serializer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.serializers[s.ID()]; exists {
		return fmt.Errorf("serializer id %d already registered", s.ID())
	}
	c.serializers[s.ID()] = s
	return nil
}

func (c *Codec) lookup(id uint32) (Serializer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.serializers[id]
	return s, ok
}

// Encode encodes m with its registered serializer. An *UnknownMessage is
// re-encoded verbatim so it can be relayed.
func (c *Codec) Encode(m Message) (uint32, []byte, error) {
	if u, ok := m.(*UnknownMessage); ok {
		return u.ID, u.Payload, nil
	}
	id := m.SerializerID()
	s, ok := c.lookup(id)
	if !ok {
		return 0, nil, protocolErr(ProtocolUnknownSerializer,
			fmt.Sprintf("no serializer registered for id %d (%T)", id, m), nil)
	}
	payload, err := s.Encode(m)
	if err != nil {
		return 0, nil, err
	}
	return id, payload, nil
}

// Decode decodes payload with the serializer registered for id.
func (c *Codec) Decode(id uint32, payload []byte) (Message, error) {
	s, ok := c.lookup(id)
	if !ok {
		if c.mode == Permissive {
			return &UnknownMessage{ID: id, Payload: payload}, nil
		}
		return nil, protocolErr(ProtocolUnknownSerializer,
			fmt.Sprintf("no serializer registered for id %d", id), nil)
	}
	m, err := s.Decode(payload)
	if err != nil {
		if IsProtocolError(err) {
			return nil, err
		}
		return nil, protocolErr(ProtocolMalformed, fmt.Sprintf("serializer %d", id), err)
	}
	return m, nil
}

// ReadMessage reads and decodes one message frame.
func (c *Codec) ReadMessage(d *FrameDecoder) (Message, error) {
	id, payload, err := d.ReadMessageFrame()
	if err != nil {
		return nil, err
	}
	return c.Decode(id, payload)
}

// WriteMessage encodes m and writes it as one message frame.
func (c *Codec) WriteMessage(e *FrameEncoder, m Message) error {
	id, payload, err := c.Encode(m)
	if err != nil {
		return err
	}
	return e.WriteMessageFrame(id, payload)
}
