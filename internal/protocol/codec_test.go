package protocol

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTokens(t *testing.T) {
	assert.Equal(t, "connect", string(EncodeConnect()))
	assert.Equal(t, "heartbeat", string(EncodeHeartbeat()))
}

func TestEncodePosition(t *testing.T) {
	tests := []struct {
		name string
		in   Vector3
		want string
	}{
		{name: "integers", in: Vector3{X: 1, Y: -2, Z: 3}, want: "1,-2,3"},
		{name: "fractions", in: Vector3{X: 0.5, Y: 1.25, Z: -7.125}, want: "0.5,1.25,-7.125"},
		{name: "zero", in: Vector3{}, want: "0,0,0"},
		{name: "shortest repr", in: Vector3{X: 0.1, Y: 0.2, Z: 0.3}, want: "0.1,0.2,0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(EncodePosition(tt.in)))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Message
		wantErr bool
	}{
		{name: "connect", input: "connect", want: Message{Kind: KindConnect}},
		{name: "heartbeat", input: "heartbeat", want: Message{Kind: KindHeartbeat}},
		{name: "position", input: "1.5,-2,3e2", want: Message{Kind: KindPosition, Position: Vector3{X: 1.5, Y: -2, Z: 300}}},
		{name: "position with spaces", input: " 1, 2 ,3 ", want: Message{Kind: KindPosition, Position: Vector3{X: 1, Y: 2, Z: 3}}},
		{name: "empty", input: "", wantErr: true},
		{name: "case sensitive token", input: "Connect", wantErr: true},
		{name: "token with newline", input: "heartbeat\n", wantErr: true},
		{name: "two components", input: "1,2", wantErr: true},
		{name: "four components", input: "1,2,3,4", wantErr: true},
		{name: "non numeric", input: "1,two,3", wantErr: true},
		{name: "empty component", input: "1,,3", wantErr: true},
		{name: "binary", input: "\x00\xff\xfe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				var decErr *DecodeError
				assert.True(t, errors.As(err, &decErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeError_WrapsParseError(t *testing.T) {
	_, err := Decode([]byte("1,x,3"))
	require.Error(t, err)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.NotNil(t, decErr.Unwrap())
	assert.Contains(t, err.Error(), "component 1")
}

func TestPositionRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	cases := []Vector3{
		{},
		{X: math.Copysign(0, -1), Y: 1e-300, Z: -1e300},
		{X: math.MaxFloat64, Y: math.SmallestNonzeroFloat64, Z: 1.0 / 3.0},
		{X: math.Inf(1), Y: math.Inf(-1), Z: 42},
	}
	for i := 0; i < 1000; i++ {
		cases = append(cases, Vector3{
			X: (rng.Float64() - 0.5) * 2000,
			Y: (rng.Float64() - 0.5) * 2e-6,
			Z: rng.NormFloat64() * 1e9,
		})
	}

	for _, v := range cases {
		msg, err := Decode(EncodePosition(v))
		require.NoError(t, err, "vector %+v", v)
		require.Equal(t, KindPosition, msg.Kind)
		assert.Equal(t, v, msg.Position)
	}
}

func TestDecode_Totality(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	alphabet := []byte("0123456789,.-+eE connectheartbeat\x00\xff")

	for i := 0; i < 5000; i++ {
		n := rng.IntN(40)
		buf := make([]byte, n)
		for j := range buf {
			if rng.IntN(4) == 0 {
				buf[j] = byte(rng.IntN(256))
			} else {
				buf[j] = alphabet[rng.IntN(len(alphabet))]
			}
		}

		assert.NotPanics(t, func() {
			msg, err := Decode(buf)
			if err != nil {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			assert.Contains(t, []Kind{KindConnect, KindHeartbeat, KindPosition}, msg.Kind)
		})
	}
}

func TestVector3(t *testing.T) {
	a := Vector3{X: 1, Y: 2, Z: 2}
	b := Vector3{X: 1, Y: 0, Z: 0}

	assert.Equal(t, Vector3{X: 2, Y: 2, Z: 2}, a.Add(b))
	assert.Equal(t, Vector3{X: 0, Y: 2, Z: 2}, a.Sub(b))
	assert.InDelta(t, 3.0, a.Length(), 1e-12)
}

func BenchmarkEncodePosition(b *testing.B) {
	v := Vector3{X: 3.141592653589793, Y: -2.718281828459045, Z: 1e-7}
	for i := 0; i < b.N; i++ {
		EncodePosition(v)
	}
}

func BenchmarkDecode(b *testing.B) {
	payloads := [][]byte{
		[]byte("connect"),
		[]byte("heartbeat"),
		[]byte("3.141592653589793,-2.718281828459045,1e-07"),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Decode(payloads[i%len(payloads)])
	}
}
