package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxDatagramSize is the largest payload either side reads in one receive.
const MaxDatagramSize = 1024

const (
	connectToken   = "connect"
	heartbeatToken = "heartbeat"
)

// Kind identifies which of the three wire messages a datagram carries.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindHeartbeat
	KindPosition
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindHeartbeat:
		return "heartbeat"
	case KindPosition:
		return "position"
	default:
		return "unknown"
	}
}

// Message is a decoded datagram. Position is only meaningful for KindPosition.
type Message struct {
	Kind     Kind
	Position Vector3
}

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("malformed datagram")

// DecodeError describes a payload that is neither a known token nor three floats.
type DecodeError struct {
	Payload string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Payload, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Payload, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

// EncodeConnect returns the join request payload.
func EncodeConnect() []byte {
	return []byte(connectToken)
}

// EncodeHeartbeat returns the liveness ping payload.
func EncodeHeartbeat() []byte {
	return []byte(heartbeatToken)
}

// EncodePosition formats v as "x,y,z" using the shortest text that parses back to the
// same float64.
func EncodePosition(v Vector3) []byte {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendFloat(buf, v.X, 'g', -1, 64)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, v.Y, 'g', -1, 64)
	buf = append(buf, ',')
	buf = strconv.AppendFloat(buf, v.Z, 'g', -1, 64)
	return buf
}

// Decode parses one datagram. It never panics; anything unrecognised comes back as a
// *DecodeError.
func Decode(data []byte) (Message, error) {
	switch {
	case bytes.Equal(data, []byte(connectToken)):
		return Message{Kind: KindConnect}, nil
	case bytes.Equal(data, []byte(heartbeatToken)):
		return Message{Kind: KindHeartbeat}, nil
	}

	text := string(data)
	parts := strings.Split(text, ",")
	if len(parts) != 3 {
		return Message{}, &DecodeError{
			Payload: truncate(text),
			Reason:  fmt.Sprintf("expected 3 components, got %d", len(parts)),
		}
	}

	var xyz [3]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Message{}, &DecodeError{
				Payload: truncate(text),
				Reason:  fmt.Sprintf("component %d", i),
				Err:     err,
			}
		}
		xyz[i] = f
	}

	return Message{
		Kind:     KindPosition,
		Position: Vector3{X: xyz[0], Y: xyz[1], Z: xyz[2]},
	}, nil
}

// keeps log lines bounded when a peer sends garbage
func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
