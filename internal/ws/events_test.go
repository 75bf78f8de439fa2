package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	id, err := parseRoomID(json.RawMessage(`42`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = parseRoomID(json.RawMessage(`"42"`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseRoomID(json.RawMessage(`"forty-two"`))
	assert.Error(t, err)

	_, err = parseRoomID(json.RawMessage(`{"id":42}`))
	assert.Error(t, err)
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "user-7", UserRoom(7))
	assert.Equal(t, "room-12", SessionRoom(12))
	assert.Equal(t, "group-3", GroupRoom(3))
}
