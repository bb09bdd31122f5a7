package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
)

type nested struct {
	Zulu  string            `json:"zulu"`
	Alpha map[string]string `json:"alpha"`
}

func TestMarshalSortsKeysAtEveryDepth(t *testing.T) {
	v := nested{
		Zulu:  "last",
		Alpha: map[string]string{"c": "3", "a": "1", "b": "2"},
	}
	data, err := canonical.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":"1","b":"2","c":"3"},"zulu":"last"}`, string(data))
}

func TestMarshalDeterministic(t *testing.T) {
	v := map[string]interface{}{"b": 2, "a": 1, "nested": map[string]int{"y": 2, "x": 1}}
	first, err := canonical.Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := canonical.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshalElide(t *testing.T) {
	v := map[string]string{"id": "x", "signature": "ff", "proof": "p"}
	data, err := canonical.Marshal(v, "signature", "proof")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(data))
}

func TestHashHexMatchesManualHash(t *testing.T) {
	v := map[string]string{"id": "x"}
	h, err := canonical.HashHex(v)
	require.NoError(t, err)

	data, err := canonical.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, canonical.HashBytesHex(data), h)
}

func TestHashString(t *testing.T) {
	// SHA-256("abc"), a fixed test vector.
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		canonical.HashString("abc"))
}
