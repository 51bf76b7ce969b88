package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Coyoacán", "coyoacan"},
		{"ÁLVARO OBREGÓN", "alvaro obregon"},
		{"  Tláhuac ", "tlahuac"},
		{"Gustavo A. Madero", "gustavo a. madero"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_JSON(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: "json", JSONPath: "testdata/datos.json"})
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestMarshalRecord_Nil(t *testing.T) {
	raw, err := marshalRecord(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	rec, err := unmarshalRecord(nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
