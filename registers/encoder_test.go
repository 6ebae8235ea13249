package registers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCatalogEncoder(t *testing.T) *Encoder {
	t.Helper()
	table, err := NewTable(DefaultCatalog()...)
	if err != nil {
		t.Fatalf("build catalog table: %v", err)
	}
	encoder, err := NewEncoder(table)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	return encoder
}

func TestEncodeWriteImaxBoundary(t *testing.T) {
	encoder := newCatalogEncoder(t)

	cmd, err := encoder.EncodeWrite(0xB, 0)
	require.NoError(t, err)
	require.Equal(t, Command("Im2048\n"), cmd)

	cmd, err = encoder.EncodeWrite(0xB, 50)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Empty(t, cmd)
}

func TestEncodeWriteTruncatesTowardZero(t *testing.T) {
	encoder := newCatalogEncoder(t)

	cmd, err := encoder.EncodeWrite(0x13, -12.7)
	require.NoError(t, err)
	require.Equal(t, Command("Sr-12\n"), cmd)

	cmd, err = encoder.EncodeWrite(0x13, 12.7)
	require.NoError(t, err)
	require.Equal(t, Command("Sr12\n"), cmd)

	// 1.5*40.95994+2048 = 2109.43991
	cmd, err = encoder.EncodeWrite(0xB, 1.5)
	require.NoError(t, err)
	require.Equal(t, Command("Im2109\n"), cmd)
}

func TestEncodeWriteErrors(t *testing.T) {
	table, err := NewTable(
		Spec{Address: 0x20, Mnemonic: "Tr", Name: "temperature", Range: Unbounded(), Readable: true},
		Spec{Address: 0x21, Mnemonic: "Fq", Name: "frequency", Range: ZeroTo(1000), Transform: Reciprocal(1000), Writable: true},
	)
	require.NoError(t, err)
	encoder, err := NewEncoder(table)
	require.NoError(t, err)

	_, err = encoder.EncodeWrite(0x99, 1)
	require.ErrorIs(t, err, ErrUnknownAddress)

	_, err = encoder.EncodeWrite(0x20, 1)
	require.ErrorIs(t, err, ErrNotWritable)

	_, err = encoder.EncodeWrite(0x21, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, err, ErrNotRepresentable)

	_, err = encoder.EncodeWrite(0x21, math.NaN())
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = encoder.EncodeWrite(0x21, 0.5)
	require.ErrorIs(t, err, ErrOutOfRange)

	cmd, err := encoder.EncodeWrite(0x21, 4)
	require.NoError(t, err)
	require.Equal(t, Command("Fq250\n"), cmd)
}

func TestEncodeDefaultAndRaw(t *testing.T) {
	encoder := newCatalogEncoder(t)

	cmd, err := encoder.EncodeDefault(0xC)
	require.NoError(t, err)
	require.Equal(t, Command("Il3276\n"), cmd)

	cmd, err = encoder.EncodeRaw(0x3, 0xFFE)
	require.NoError(t, err)
	require.Equal(t, Command("Va4094\n"), cmd)

	_, err = encoder.EncodeRaw(0x3, 0xFFF)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestDecodeRead(t *testing.T) {
	encoder := newCatalogEncoder(t)

	user, err := encoder.DecodeRead(0xB, 2048)
	require.NoError(t, err)
	require.Equal(t, 0.0, user)

	// decoding is not range checked
	user, err = encoder.DecodeRead(0x3, 0xFFFF)
	require.NoError(t, err)
	require.Equal(t, float64(0xFFFF), user)

	_, err = encoder.DecodeRead(0x1, 0)
	require.ErrorIs(t, err, ErrUnknownAddress)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoder := newCatalogEncoder(t)
	spec, ok := encoder.Table().Lookup(0xB)
	require.True(t, ok)
	tolerance := 1/spec.Transform.Scale + 1e-9

	for user := -49.0; user <= 49.0; user += 0.25 {
		raw, err := spec.Transform.ToRaw(user)
		require.NoError(t, err)
		if _, err := encoder.EncodeWrite(0xB, user); err != nil {
			t.Fatalf("EncodeWrite(%v) error = %v", user, err)
		}
		decoded, err := encoder.DecodeRead(0xB, raw)
		require.NoError(t, err)
		if math.Abs(decoded-user) > tolerance {
			t.Fatalf("round trip of %v gave %v (raw %d)", user, decoded, raw)
		}
	}
}

func TestReciprocalRoundTrip(t *testing.T) {
	transform := Reciprocal(1000)
	for _, user := range []float64{1, 2, 3, 4, 7, 10, 25} {
		raw, err := transform.ToRaw(user)
		require.NoError(t, err)
		decoded, err := transform.ToUser(raw)
		require.NoError(t, err)
		// one raw count of truncation at k/x corresponds to x^2/k in user units
		if math.Abs(decoded-user) > user*user/1000*1.01 {
			t.Fatalf("round trip of %v gave %v (raw %d)", user, decoded, raw)
		}
	}
	_, err := transform.ToUser(0)
	require.ErrorIs(t, err, ErrNotRepresentable)
}

func TestNewEncoderRequiresTable(t *testing.T) {
	_, err := NewEncoder(nil)
	require.Error(t, err)
}
